package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/codec"
	"tradecore/internal/recorder"
	"tradecore/internal/schema"
)

type options struct {
	dir        string
	prefix     string
	kinds      []string
	decode     bool
	noChecksum bool
	maxPayload int
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "journal",
		Short:        "Dump the audit write-ahead log",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := dump(cmd.Context(), os.Stdout, opts)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "data/journal", "WAL directory")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "WAL file prefix (default: journal)")
	cmd.Flags().StringSliceVarP(&opts.kinds, "kind", "k", nil, "only print these record kinds, e.g. order,fill")
	cmd.Flags().BoolVar(&opts.decode, "decode", false, "print decoded payloads")
	cmd.Flags().BoolVar(&opts.noChecksum, "no-checksum", false, "disable checksum validation")
	cmd.Flags().IntVar(&opts.maxPayload, "max-payload", 0, "max payload size in bytes (0=unlimited)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		logs.Errorf("journal dump failed, err: %+v", err)
		os.Exit(1)
	}
}

// dump prints the matching records to w and returns how many it printed.
func dump(ctx context.Context, w io.Writer, opts options) (int, error) {
	filter := map[string]bool{}
	for _, k := range opts.kinds {
		filter[strings.ToLower(strings.TrimSpace(k))] = true
	}

	var index, printed int
	counts := map[schema.RecordKind]int{}
	err := recorder.Scan(ctx, recorder.ScanConfig{
		Dir:             opts.dir,
		FilePrefix:      opts.prefix,
		DisableChecksum: opts.noChecksum,
		MaxPayloadSize:  opts.maxPayload,
	}, func(header schema.RecordHeader, payload []byte) error {
		index++
		counts[header.Kind]++
		if len(filter) > 0 && !filter[header.Kind.String()] {
			return nil
		}
		printed++
		fmt.Fprintf(w, "%06d seq=%d kind=%s time=%s len=%d\n",
			index, header.Seq, header.Kind, time.Unix(0, header.Time).UTC().Format(time.RFC3339Nano), len(payload))
		if opts.decode {
			printDecoded(w, header.Kind, payload)
		}
		return nil
	})
	if err != nil {
		return printed, errors.Wrapf(err, "scan %s", opts.dir)
	}

	logs.Infof("journal scanned, records: %d, printed: %d, orders: %d, fills: %d, rejections: %d, breaker: %d",
		index, printed, counts[schema.RecordOrder], counts[schema.RecordFill], counts[schema.RecordRejection], counts[schema.RecordBreaker])
	return printed, nil
}

func printDecoded(w io.Writer, kind schema.RecordKind, payload []byte) {
	switch kind {
	case schema.RecordOrder:
		o, err := codec.DecodeOrder(payload)
		if err != nil {
			fmt.Fprintf(w, "  decode order failed: %v\n", err)
			return
		}
		fmt.Fprintf(w, "  order id=%s venue=%s symbol=%s side=%s status=%s qty=%s filled=%s avg=%s fee=%s reason=%q\n",
			o.ID, o.VenueID, o.Symbol, o.Side, o.Status, o.Qty, o.FilledQty, o.AvgPrice, o.Fee, o.Reason)
	case schema.RecordFill:
		f, err := codec.DecodeFill(payload)
		if err != nil {
			fmt.Fprintf(w, "  decode fill failed: %v\n", err)
			return
		}
		fmt.Fprintf(w, "  fill order=%s symbol=%s side=%s qty=%s price=%s fee=%s\n",
			f.OrderID, f.Symbol, f.Side, f.Qty, f.Price, f.Fee)
	case schema.RecordPosition:
		p, err := codec.DecodePosition(payload)
		if err != nil {
			fmt.Fprintf(w, "  decode position failed: %v\n", err)
			return
		}
		fmt.Fprintf(w, "  position symbol=%s qty=%s avg=%s realized=%s\n", p.Symbol, p.Qty, p.AvgPrice, p.RealizedPnL)
	default:
		fmt.Fprintf(w, "  %s\n", payload)
	}
}
