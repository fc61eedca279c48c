package feed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/statarb/pkg/models"
)

// Store receives raw observations.
type Store interface {
	Add(obs models.RateObservation) error
}

// Submitter receives MARKET events once a full update has been stored.
type Submitter interface {
	Submit(ctx context.Context, event models.Event) error
}

// Poller fetches every token on a fixed interval.
type Poller struct {
	client   *Client
	tokens   []string
	store    Store
	out      Submitter
	interval time.Duration
	logger   *logrus.Logger
}

func NewPoller(client *Client, tokens []string, store Store, out Submitter, interval time.Duration, logger *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		client:   client,
		tokens:   tokens,
		store:    store,
		out:      out,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.WithError(err).Warn("Failed to submit market event")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll fetches one observation per token and submits a MARKET event once
// every token has a new stored observation. A round with any failed token
// submits nothing; the stored observations wait for the next complete round.
func (p *Poller) Poll(ctx context.Context) error {
	latest := time.Time{}
	updated := 0
	for _, token := range p.tokens {
		obs, err := p.client.GetLiquidityIndex(ctx, token)
		if err != nil {
			p.logger.WithError(err).WithField("token", token).Error("Failed to get liquidity index")
			continue
		}
		if err := p.store.Add(obs); err != nil {
			p.logger.WithError(err).WithField("token", token).Debug("Dropped observation")
			continue
		}
		updated++
		if obs.Timestamp.After(latest) {
			latest = obs.Timestamp
		}
	}
	if updated < len(p.tokens) {
		p.logger.WithFields(logrus.Fields{
			"updated": updated,
			"tokens":  len(p.tokens),
		}).Debug("Incomplete update, no market event")
		return nil
	}
	return p.out.Submit(ctx, models.NewMarketEvent(latest))
}
