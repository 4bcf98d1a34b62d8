package backends

import (
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/robinmsg/robin/cip"
)

func init() {
	// ----------------------------------------------------------------------------------
	// Processor Name: sql
	// ----------------------------------------------------------------------------------
	// Description   : Insert published cips into a mysql table
	// ----------------------------------------------------------------------------------
	// Config Options: cip_table string - table to insert into
	//               : mysql_db string - database name
	//               : mysql_host string - host:port
	//               : mysql_user string
	//               : mysql_pass string
	// --------------:-------------------------------------------------------------------
	// Input         : c.TS, c.Author, c.Text, c.Hashtags()
	// ----------------------------------------------------------------------------------
	// Output        : one row per cip
	// ----------------------------------------------------------------------------------
	processors["sql"] = func() Decorator {
		return SQL()
	}
}

type sqlConfig struct {
	Table     string `json:"cip_table"`
	MysqlDB   string `json:"mysql_db"`
	MysqlHost string `json:"mysql_host"`
	MysqlUser string `json:"mysql_user"`
	MysqlPass string `json:"mysql_pass"`
}

type sqlProcessor struct {
	config     *sqlConfig
	db         *sql.DB
	insertStmt *sql.Stmt
}

func (s *sqlProcessor) connect() (*sql.DB, error) {
	conf := mysql.Config{
		User:         s.config.MysqlUser,
		Passwd:       s.config.MysqlPass,
		DBName:       s.config.MysqlDB,
		Net:          "tcp",
		Addr:         s.config.MysqlHost,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		Params:       map[string]string{"collation": "utf8_general_ci"},
	}
	db, err := sql.Open("mysql", conf.FormatDSN())
	if err != nil {
		Log().Error("cannot open mysql: ", err)
		return nil, err
	}
	Log().Info("connected to mysql on tcp ", s.config.MysqlHost)
	return db, nil
}

// prepares the insert query once, after connecting
func (s *sqlProcessor) prepareInsertQuery() error {
	sqlstr := "INSERT INTO `" + s.config.Table + "` "
	sqlstr += "(`ts`, `author`, `text`, `hashtags`)"
	sqlstr += " VALUES (?, ?, ?, ?)"
	stmt, err := s.db.Prepare(sqlstr)
	if err != nil {
		Log().WithError(err).Error("failed while db.Prepare(INSERT...)")
		return err
	}
	s.insertStmt = stmt
	return nil
}

// The sql decorator inserts each cip into a mysql table
func SQL() Decorator {
	sp := &sqlProcessor{}

	Svc.AddInitializer(InitializeWith(func(backendConfig BackendConfig) error {
		configType := baseConfig(&sqlConfig{})
		bcfg, err := Svc.ExtractConfig(backendConfig, configType)
		if err != nil {
			return err
		}
		sp.config = bcfg.(*sqlConfig)
		sp.db, err = sp.connect()
		if err != nil {
			return err
		}
		return sp.prepareInsertQuery()
	}))

	Svc.AddShutdowner(ShutdownWith(func() error {
		if sp.db != nil {
			return sp.db.Close()
		}
		return nil
	}))

	return func(p Processor) Processor {
		return ProcessorFunc(func(c *cip.Cip) (Result, error) {
			tags := strings.Join(c.Hashtags(), " ")
			if _, err := sp.insertStmt.Exec(c.TS, c.Author, c.Text, tags); err != nil {
				Log().WithError(err).Error("there was a problem with the insert")
				return NewResult("-1 sql: " + err.Error()), err
			}
			return p.Process(c)
		})
	}
}
