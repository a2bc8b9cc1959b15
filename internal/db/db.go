package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// Models 返回需要自动迁移的全部模型，测试与 Init 共用同一份列表。
func Models() []interface{} {
	return []interface{}{
		&User{},
		&Post{},
		&Tag{},
		&TokenLog{},
		&PostView{},
		&Report{},
		&SystemSetting{},
	}
}

// Open 打开 sqlite 数据库并执行自动迁移，不会修改全局 DB。
func Open(dsn string, gormLogger logger.Interface) (*gorm.DB, error) {
	cfg := &gorm.Config{}
	if gormLogger != nil {
		cfg.Logger = gormLogger
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}

	// sqlite 只允许一个写者，单连接让事务在连接池处排队，而不是返回 database is locked。
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Init 初始化数据库连接并执行自动迁移。
// databasePath 为空时将回退到默认值 tokenboard.db。
func Init(databasePath string) error {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		path = "tokenboard.db"
	}

	if err := ensureParentDir(path); err != nil {
		return err
	}

	gdb, err := Open(path+"?_foreign_keys=on&_busy_timeout=5000", logger.Default.LogMode(logger.Warn))
	if err != nil {
		return err
	}

	DB = gdb
	return nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
