package pipeline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"snowflake-loader/internal/config"
	"snowflake-loader/internal/fetch"
	"snowflake-loader/internal/loaderr"
	"snowflake-loader/internal/warehouse"
)

// Downloader is satisfied by *fetch.Fetcher.
type Downloader interface {
	Download(ctx context.Context, rawURL, dst string) (int64, error)
}

// OpenFunc connects to the warehouse. warehouse.Open is the production OpenFunc.
type OpenFunc func(ctx context.Context, sf config.Snowflake, creds config.Credentials) (*warehouse.Session, error)

// Loader runs one download-stage-load cycle per call to Run. It holds no state
// between runs.
type Loader struct {
	ConfigPath      string
	LoadConfig      func(path string) (*config.Config, error)
	LoadCredentials func() (config.Credentials, error)
	Fetcher         Downloader
	Open            OpenFunc
}

func NewLoader(cfg aws.Config, configPath string) *Loader {
	return &Loader{
		ConfigPath:      configPath,
		LoadConfig:      config.Load,
		LoadCredentials: config.LoadCredentials,
		Fetcher:         fetch.New(http.DefaultClient, s3.NewFromConfig(cfg)),
		Open:            warehouse.Open,
	}
}

// Summary describes a completed run.
type Summary struct {
	Source     string
	LocalPath  string
	Bytes      int64
	Table      string
	RowsLoaded int64
}

// Run resolves the configuration, downloads the source file and reloads the
// destination table from it, in that order. The first failure ends the run;
// nothing is retried or rolled back.
func (l *Loader) Run(ctx context.Context) (*Summary, error) {
	cfg, err := l.LoadConfig(l.ConfigPath)
	if err != nil {
		return nil, loaderr.Config("load config", err)
	}
	creds, err := l.LoadCredentials()
	if err != nil {
		return nil, loaderr.Config("load credentials", err)
	}

	sum := &Summary{
		Source:     cfg.Source.URL,
		LocalPath:  cfg.LocalPath(),
		Table:      cfg.Snowflake.Schema + "." + cfg.Snowflake.Table,
		RowsLoaded: -1,
	}

	n, err := l.Fetcher.Download(ctx, sum.Source, sum.LocalPath)
	if err != nil {
		return nil, loaderr.Fetch("download", err)
	}
	sum.Bytes = n
	slog.InfoContext(ctx, "source downloaded", "url", sum.Source, "path", sum.LocalPath, "bytes", n)

	target := warehouse.Target{
		StageName: cfg.Snowflake.StageName,
		Schema:    cfg.Snowflake.Schema,
		Table:     cfg.Snowflake.Table,
		FilePath:  sum.LocalPath,
		FileName:  cfg.Local.FileName,
	}

	open := func(ctx context.Context) (*warehouse.Session, error) {
		s, err := l.Open(ctx, cfg.Snowflake, creds)
		if err != nil {
			return nil, loaderr.Connect("connect snowflake", err)
		}
		slog.InfoContext(ctx, "snowflake session opened",
			"account", cfg.Snowflake.Account,
			"warehouse", cfg.Snowflake.Warehouse,
			"role", cfg.Snowflake.Role,
			"creds", creds,
		)
		return s, nil
	}

	err = warehouse.WithSession(ctx, open, func(cur warehouse.Cursor) error {
		res, err := warehouse.StageAndLoad(ctx, cur, target)
		if err != nil {
			return loaderr.Statement("stage and load", err)
		}
		sum.RowsLoaded = res.RowsLoaded
		return nil
	})
	if err != nil {
		// only an unclassified close failure gets this op
		return nil, loaderr.Connect("close snowflake", err)
	}
	return sum, nil
}
