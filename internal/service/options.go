package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"willsave/internal/datastore"
	"willsave/internal/logger"
)

// ErrLinkFailed is returned when a new username cannot be linked.
var ErrLinkFailed = errors.New("could not link duolingo account")

// Suggestion is a ready-made blocklist entry.
type Suggestion struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

var quickSuggest = []Suggestion{
	{"Reddit", "https?://.*?reddit.com/.*"},
	{"Facebook", "https?://www.facebook.com/.*"},
	{"Hacker News", "https?://news.ycombinator.com/.*"},
	{"Youtube", "https?://www.youtube.com/.*"},
	{"Twitter", "https?://twitter.com/.*"},
	{"VK", "https?://vk.com/.*"},
	{"Instagram", "https?://www.instagram.com/.*"},
	{"LinkedIn", "https?://www.linkedin.com/.*"},
	{"Imgur", "https?://imgur.com/.*"},
	{"Tumblr", "https?://www.tumblr.com/.*"},
}

// Settings is the options page form.
type Settings struct {
	BlockList          []string `json:"blockList"`
	MinutesPerCurrency int      `json:"minutesPerCurrency"`
	CurrencyPerLesson  int      `json:"currencyPerLesson"`
	DuolingoUsername   string   `json:"duolingoUsername"`
}

// LinkStatus describes a freshly linked account.
type LinkStatus struct {
	Username    string `json:"username"`
	TotalPoints int    `json:"totalPoints"`
}

// SaveResult is the stored settings plus the new link, if any.
type SaveResult struct {
	Settings
	Linked *LinkStatus `json:"linked,omitempty"`
}

// Options loads and saves user settings.
type Options struct {
	access *datastore.Access
	api    ProgressAPI
	log    *zap.Logger
}

// NewOptions creates the options operations.
func NewOptions(access *datastore.Access, api ProgressAPI, log *zap.Logger) *Options {
	return &Options{
		access: access,
		api:    api,
		log:    logger.OrNop(log).Named("Options"),
	}
}

// Suggestions returns the quick-suggest blocklist entries.
func (o *Options) Suggestions() []Suggestion {
	return append([]Suggestion(nil), quickSuggest...)
}

// Load reads the current settings.
func (o *Options) Load(ctx context.Context) (Settings, error) {
	var (
		s   Settings
		err error
	)
	if s.BlockList, err = o.access.GetBlockList(ctx); err != nil {
		return Settings{}, err
	}
	if s.MinutesPerCurrency, err = o.access.GetDefaultTime(ctx); err != nil {
		return Settings{}, err
	}
	if s.CurrencyPerLesson, err = o.access.GetCurrencyPerLesson(ctx); err != nil {
		return Settings{}, err
	}
	if s.DuolingoUsername, err = o.access.GetDuolingoUsername(ctx); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save validates and stores s. The username is re-linked only when it
// changed, using the account's current total as the new checkpoint. A
// failed lookup of the new account leaves every setting untouched.
func (o *Options) Save(ctx context.Context, s Settings) (SaveResult, error) {
	if s.MinutesPerCurrency <= 0 {
		return SaveResult{}, fmt.Errorf("minutes per currency: %w", datastore.ErrInvalidAmount)
	}
	if s.CurrencyPerLesson <= 0 {
		return SaveResult{}, fmt.Errorf("currency per lesson: %w", datastore.ErrInvalidAmount)
	}

	linked, err := o.lookupLink(ctx, strings.TrimSpace(s.DuolingoUsername))
	if err != nil {
		return SaveResult{}, err
	}

	if err := o.access.SetBlockList(ctx, s.BlockList); err != nil {
		return SaveResult{}, err
	}
	if err := o.access.SetCurrencyPerLesson(ctx, s.CurrencyPerLesson); err != nil {
		return SaveResult{}, err
	}
	if err := o.access.SetDefaultTime(ctx, s.MinutesPerCurrency); err != nil {
		return SaveResult{}, err
	}
	if linked != nil {
		o.log.Info("set new duolingo username", zap.String("username", linked.Username), zap.Int("basePoints", linked.TotalPoints))
		if err := o.access.SetDuolingoUsernameAndInitializeInventory(ctx, linked.Username, linked.TotalPoints); err != nil {
			return SaveResult{}, err
		}
	}

	stored, err := o.Load(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Settings: stored, Linked: linked}, nil
}

// lookupLink resolves a changed username to its account total. It returns
// nil when the username is unchanged.
func (o *Options) lookupLink(ctx context.Context, newUsername string) (*LinkStatus, error) {
	oldUsername, err := o.access.GetDuolingoUsername(ctx)
	if err != nil {
		return nil, err
	}
	if oldUsername == newUsername {
		return nil, nil
	}
	if newUsername == "" {
		return nil, fmt.Errorf("%w: username is empty", ErrLinkFailed)
	}

	data := o.api.GetData(ctx, newUsername)
	if data.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrLinkFailed, data.Error)
	}
	return &LinkStatus{Username: newUsername, TotalPoints: data.TotalPoints}, nil
}
