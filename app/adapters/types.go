package adapters

import (
	"context"

	"github.com/lysyi3m/rss-intake/app/feed"
)

const (
	TypeReadability = "readability"
	TypeRewrite     = "rewrite"
)

// Adapter replaces the generic fetch+parse for sources that need bespoke handling.
type Adapter interface {
	Name() string
	FetchAndParse(ctx context.Context, url string) (*feed.Descriptor, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*feed.FetchResult, error)
}

type Parser interface {
	Parse(content string) (*feed.Descriptor, error)
}

// Config is one adapter definition file.
type Config struct {
	Name    string        `yaml:"-"`
	Type    string        `yaml:"type"`
	Hosts   []string      `yaml:"hosts"`
	Markers []string      `yaml:"markers"`
	Rewrite RewriteConfig `yaml:"rewrite"`
}

type RewriteConfig struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}
