package storage

import (
	"database/sql"
	"time"

	"github.com/viktorbarna/tradesim/internal/backtest"
	"github.com/viktorbarna/tradesim/internal/models"
	_ "github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Init() error {
	candleQuery := `CREATE TABLE IF NOT EXISTS candle (
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time TIMESTAMPTZ NOT NULL,
		open NUMERIC(18, 8) NOT NULL,
		high NUMERIC(18, 8) NOT NULL,
		low NUMERIC(18, 8) NOT NULL,
		close NUMERIC(18, 8) NOT NULL,
		volume NUMERIC(18, 8) NOT NULL,
		UNIQUE (symbol, interval, open_time)
	);`

	reportQuery := `CREATE TABLE IF NOT EXISTS backtest_report (
		id SERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		starting_capital DOUBLE PRECISION NOT NULL,
		final_capital DOUBLE PRECISION NOT NULL,
		profit DOUBLE PRECISION NOT NULL,
		transaction_costs DOUBLE PRECISION NOT NULL,
		buys_accepted INT NOT NULL,
		sells_accepted INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

	if _, err := p.db.Exec(candleQuery); err != nil {
		return err
	}
	if _, err := p.db.Exec(reportQuery); err != nil {
		return err
	}
	return nil
}

func (p *PostgresStore) SaveCandles(symbol, interval string, candles []*models.Candle) error {
	stmt, err := p.db.Prepare(`INSERT INTO candle
		(symbol, interval, open_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, interval, open_time) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(
			symbol, interval, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume,
		); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) FetchCandles(
	symbol, interval string,
	start, end time.Time,
) ([]*models.Candle, error) {
	rows, err := p.db.Query(`SELECT open_time, open, high, low, close, volume
		FROM candle
		WHERE symbol = $1 AND interval = $2 AND open_time BETWEEN $3 AND $4
		ORDER BY open_time`, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []*models.Candle
	for rows.Next() {
		c := &models.Candle{}
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (p *PostgresStore) SaveReport(r *backtest.Report) error {
	_, err := p.db.Exec(`INSERT INTO backtest_report
		(symbol, strategy, period_start, period_end, starting_capital,
		 final_capital, profit, transaction_costs, buys_accepted, sells_accepted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.Symbol, r.Strategy, r.Start, r.End, r.StartingCapital,
		r.FinalCapital, r.Profit, r.TransactionCosts,
		r.BuySignalsAccepted, r.SellSignalsAccepted,
	)
	return err
}

func (p *PostgresStore) Close() {
	p.db.Close()
}
