package feed

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
)

const maxSignalLine = 1 << 20

// LoadSignals reads recorded signals, one JSON object per line, ordered by
// timestamp. Blank lines and lines starting with '#' are skipped.
func LoadSignals(path string) ([]schema.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return ReadSignals(f)
}

// ReadSignals parses a JSON lines stream of signals.
func ReadSignals(r io.Reader) ([]schema.Signal, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSignalLine)

	var out []schema.Signal
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var sig schema.Signal
		if err := sonic.UnmarshalString(text, &sig); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, sig)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan signals")
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
