package database

import (
	"database/sql"
	"time"
)

type PgSwapChatRepository struct {
	conn *sql.DB
}

func NewPgSwapChatRepository(dsn string) (*PgSwapChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgSwapChatRepository{conn: db}, nil
}

func (db *PgSwapChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgSwapChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
