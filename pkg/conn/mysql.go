package conn

import (
	"fmt"
	"net/url"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	defaultMySQLHost    = "127.0.0.1"
	defaultMySQLPort    = 3306
	defaultMySQLCharset = "utf8mb4"
)

// MySQLOption defines connection options for MySQL.
type MySQLOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	Charset    string
	Loc        string
	ConnString string
	Pool       Pool
	Config     *gorm.Config
}

// NewMySQL creates a MySQL client.
func NewMySQL(option MySQLOption) (*Client, error) {
	return open(DriverMySQL, mysql.Open(option.dsn()), option.Config, option.Pool)
}

func (opt MySQLOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultMySQLHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultMySQLPort
	}
	charset := opt.Charset
	if charset == "" {
		charset = defaultMySQLCharset
	}
	loc := opt.Loc
	if loc == "" {
		loc = "UTC"
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=%s",
		opt.User, opt.Password, host, port, opt.Database, charset, url.QueryEscape(loc))
}
