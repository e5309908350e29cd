package infrastructure

import (
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"verbapost/internal/pkg/bootstrap"
)

// MySQLDSN 由配置构造 DSN。parseTime 是必须的，时间列需要映射为 time.Time。
func MySQLDSN(cfg bootstrap.MySQLConfig) string {
	c := mysqldriver.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = cfg.Addr
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// OpenMySQL 打开数据库并迁移订单与账号表。
func OpenMySQL(cfg bootstrap.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(MySQLDSN(cfg)), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open mysql %s", cfg.Addr)
	}
	if err := db.AutoMigrate(&OrderModel{}, &AccountModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate letter tables")
	}
	return db, nil
}
