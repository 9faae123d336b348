package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ankittk/researcher/internal/archive"
	"github.com/ankittk/researcher/internal/archive/postgres"
	"github.com/ankittk/researcher/internal/config"
	"github.com/ankittk/researcher/internal/llm"
	"github.com/ankittk/researcher/internal/pipeline"
	"github.com/ankittk/researcher/internal/search"
	"github.com/ankittk/researcher/internal/stages"
)

// buildStages returns the stub stages or the LLM and search backed ones.
func buildStages(opts StartOptions) (pipeline.Stages, error) {
	if opts.Stub {
		return stages.Stub(), nil
	}
	s := opts.Settings
	if err := s.ValidateLLM(); err != nil {
		return pipeline.Stages{}, fmt.Errorf("%w (or run with --stub)", err)
	}
	client, err := llm.New(llm.Options{BaseURL: s.LLMHost, APIKey: s.APIKey, Model: s.LLMName})
	if err != nil {
		return pipeline.Stages{}, err
	}
	deps := stages.Deps{LLM: client, MaxQuestionLen: s.SearchMaxLen}
	if s.TavilyAPIKey != "" {
		sc, err := search.New(search.Options{
			BaseURL:    s.TavilyBaseURL,
			APIKey:     s.TavilyAPIKey,
			MaxResults: s.SearchMaxResults,
			Threshold:  s.SearchThreshold,
		})
		if err != nil {
			return pipeline.Stages{}, err
		}
		deps.Search = sc
	} else {
		slog.Warn("TAVILY_API_KEY not set; research mode will fail and direct mode answers without search")
	}
	return stages.New(deps), nil
}

// openArchive opens the snapshot archive for the configured driver.
func openArchive(opts StartOptions) (archive.Archive, error) {
	switch opts.DBDriver {
	case "postgres":
		dsn := opts.DBURL
		if dsn == "" {
			dsn = opts.Settings.DatabaseURL
		}
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, errors.New("postgres archive needs --db-url or DATABASE_URL")
		}
		return postgres.Open(dsn)
	default:
		return archive.OpenWithOptions(archive.OpenOptions{Driver: opts.DBDriver, Home: opts.Home})
	}
}

func apiKey(opts StartOptions) string {
	if opts.APIKey != "" {
		return opts.APIKey
	}
	return opts.Settings.ResearcherAPIKey
}

// maxAttempts falls back to the executor default for an unset value.
func maxAttempts(s config.Settings) int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return pipeline.DefaultMaxAttempts
}
