package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ConnectMongoDB returns the named database once the server answers a ping.
// The client is disconnected again when it does not.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20).
		SetAppName("cart-sync")

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := pingOrDisconnect(ctx, client); err != nil {
		return nil, err
	}

	return client.Database(database), nil
}

func pingOrDisconnect(ctx context.Context, client *mongo.Client) error {
	err := client.Ping(ctx, nil)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("failed to ping MongoDB: %w", err)

	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if errDisconnect := client.Disconnect(disconnectCtx); errDisconnect != nil {
		return errors.Join(err, fmt.Errorf("failed to disconnect: %w", errDisconnect))
	}
	return err
}

// OpenSQL opens a gorm database for the "postgres" or "sqlite" driver.
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, nil
}
