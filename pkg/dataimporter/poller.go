package dataimporter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/travigo/sirihub/pkg/config"
)

const DefaultRefreshInterval = time.Minute

var ErrNoSource = errors.New("dataset has no source")

// ImportSource fetches the dataset's source and imports it once.
func (i *Importer) ImportSource(ctx context.Context, dataset config.DatasetConfig) error {
	if dataset.Source == "" {
		return ErrNoSource
	}

	reader, err := Open(ctx, dataset.Source, dataset.Headers)
	if err != nil {
		return err
	}
	defer reader.Close()

	return i.Import(ctx, Format(dataset.Format), dataset.ID, reader)
}

// Run imports the dataset once when repeatEvery is zero. Otherwise it
// keeps importing every repeatEvery until ctx is done, logging failures
// instead of stopping.
func (i *Importer) Run(ctx context.Context, dataset config.DatasetConfig, repeatEvery time.Duration) error {
	for {
		startTime := i.Clock.Now()

		err := i.ImportSource(ctx, dataset)
		if repeatEvery <= 0 {
			return err
		}
		if err != nil {
			log.Error().Err(err).Str("id", dataset.ID).Msg("Failed to import dataset")
		}

		executionDuration := i.Clock.Since(startTime)
		log.Info().Str("id", dataset.ID).Msgf("Operation took %s", executionDuration.String())

		waitTime := repeatEvery - executionDuration
		if waitTime <= 0 {
			waitTime = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-i.Clock.After(waitTime):
		}
	}
}

// RunAll polls every dataset that has a source until ctx is done.
func (i *Importer) RunAll(ctx context.Context, datasets []config.DatasetConfig) {
	var wg conc.WaitGroup

	for _, dataset := range datasets {
		if dataset.Source == "" {
			continue
		}

		repeatEvery := dataset.RefreshInterval
		if repeatEvery <= 0 {
			repeatEvery = DefaultRefreshInterval
		}

		log.Info().Str("interval", repeatEvery.String()).Str("id", dataset.ID).Msg("Loaded realtime dataset")

		dataset := dataset
		wg.Go(func() {
			_ = i.Run(ctx, dataset, repeatEvery)
		})
	}

	wg.Wait()
}
