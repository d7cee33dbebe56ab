package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"moff.io/wallet-connector/internal/config"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

var (
	Postgres *gorm.DB
)

func InitPostgres(conf *config.DBCredential) error {
	cli, err := gorm.Open(postgres.Open(conf.Dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "wallet.",
		},
	})
	if err != nil {
		return errors.WrapAndReport(err, "connect to pg")
	}

	db, err := cli.DB()
	if err != nil {
		return errors.WrapAndReport(err, "get pg conn")
	}
	if err := db.Ping(); err != nil {
		return errors.WrapAndReport(err, "ping to pg")
	}
	log.Info("Connected to wallet postgres...")

	err = cli.AutoMigrate(
		&WalletSession{},
		&WalletEvent{},
	)
	if err != nil {
		return errors.WrapAndReport(err, "autoMigrate tables")
	}
	Postgres = cli
	return nil
}

func Close() {
	if Postgres == nil {
		return
	}
	if db, err := Postgres.DB(); err == nil {
		db.Close()
	}
	Postgres = nil
}
