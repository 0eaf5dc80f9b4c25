package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/viktorbarna/tradesim/internal/backtest"
	"github.com/viktorbarna/tradesim/internal/models"
)

// TimescaleDB stores candles in a hypertable with a continuous aggregate per
// common interval, which keeps long-range chart queries cheap.
type TimescaleDB struct {
	db *sql.DB
}

func NewTimescaleDB(dsn string) (*TimescaleDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &TimescaleDB{db: db}, nil
}

func (ts *TimescaleDB) Init() error {
	if _, err := ts.db.Exec("CREATE SCHEMA IF NOT EXISTS tradesim"); err != nil {
		return err
	}

	tableQuery := `CREATE TABLE IF NOT EXISTS tradesim.candle (
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time TIMESTAMPTZ NOT NULL,
		open FLOAT NOT NULL,
		high FLOAT NOT NULL,
		low FLOAT NOT NULL,
		close FLOAT NOT NULL,
		volume FLOAT NOT NULL
	);`

	hypertableQuery := `
	DO $$
	BEGIN
		IF NOT EXISTS (SELECT * FROM timescaledb_information.hypertables WHERE hypertable_schema = 'tradesim' AND hypertable_name = 'candle') THEN
			PERFORM create_hypertable('tradesim.candle', 'open_time');
		END IF;
	END $$;`

	reportQuery := `CREATE TABLE IF NOT EXISTS tradesim.backtest_report (
		id SERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		starting_capital FLOAT NOT NULL,
		final_capital FLOAT NOT NULL,
		profit FLOAT NOT NULL,
		transaction_costs FLOAT NOT NULL,
		buys_accepted INT NOT NULL,
		sells_accepted INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

	if _, err := ts.db.Exec(tableQuery); err != nil {
		return err
	}
	if _, err := ts.db.Exec(hypertableQuery); err != nil {
		return err
	}
	if _, err := ts.db.Exec(reportQuery); err != nil {
		return err
	}

	for _, interval := range []string{"1m", "1h", "1d"} {
		if err := ts.CreateAggregateView(interval); err != nil {
			return err
		}
	}
	return nil
}

// CreateAggregateView sets up the continuous aggregate bucketing candles of
// the given interval string.
func (ts *TimescaleDB) CreateAggregateView(interval string) error {
	bucket, err := ConvertInterval(interval)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
	CREATE MATERIALIZED VIEW IF NOT EXISTS tradesim.aggregate_%s WITH (timescaledb.continuous) AS
	SELECT
		symbol,
		time_bucket(INTERVAL '%s', open_time) AS bucket,
		FIRST(open, open_time) AS first_open,
		MAX(high) AS max_high,
		MIN(low) AS min_low,
		LAST(close, open_time) AS last_close,
		SUM(volume) AS total_volume
	FROM tradesim.candle
	WHERE interval = '%s'
	GROUP BY bucket, symbol;`, interval, bucket, interval)

	_, err = ts.db.Exec(query)
	return err
}

// ConvertInterval translates an exchange interval string like "5m" into the
// SQL interval it buckets to, e.g. "5 minutes".
func ConvertInterval(interval string) (string, error) {
	if len(interval) < 2 {
		return "", fmt.Errorf("invalid interval %q", interval)
	}

	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil {
		return "", fmt.Errorf("invalid interval %q: %w", interval, err)
	}

	var unit string
	switch interval[len(interval)-1] {
	case 's':
		unit = "second"
	case 'm':
		unit = "minute"
	case 'h':
		unit = "hour"
	case 'd':
		unit = "day"
	case 'w':
		unit = "week"
	case 'M':
		unit = "month"
	default:
		return "", fmt.Errorf("invalid interval %q", interval)
	}

	if n != 1 {
		unit += "s"
	}
	return strings.Join([]string{strconv.Itoa(n), unit}, " "), nil
}

func (ts *TimescaleDB) SaveCandles(symbol, interval string, candles []*models.Candle) error {
	stmt, err := ts.db.Prepare(`INSERT INTO tradesim.candle
		(symbol, interval, open_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`)
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

func (ts *TimescaleDB) FetchCandles(
	symbol, interval string,
	start, end time.Time,
) ([]*models.Candle, error) {
	rows, err := ts.db.Query(`SELECT open_time, open, high, low, close, volume
		FROM tradesim.candle
		WHERE symbol = $1 AND interval = $2 AND open_time BETWEEN $3 AND $4
		ORDER BY open_time`, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []*models.Candle
	for rows.Next() {
		var openTime pgtype.Timestamptz
		c := &models.Candle{}
		if err := rows.Scan(&openTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.OpenTime = openTime.Time.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (ts *TimescaleDB) SaveReport(r *backtest.Report) error {
	_, err := ts.db.Exec(`INSERT INTO tradesim.backtest_report
		(symbol, strategy, period_start, period_end, starting_capital,
		 final_capital, profit, transaction_costs, buys_accepted, sells_accepted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.Symbol, r.Strategy, r.Start, r.End, r.StartingCapital,
		r.FinalCapital, r.Profit, r.TransactionCosts,
		r.BuySignalsAccepted, r.SellSignalsAccepted,
	)
	return err
}

func (ts *TimescaleDB) Close() {
	ts.db.Close()
}
