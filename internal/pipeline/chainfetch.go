package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/market"
)

// fetchChains is stage S2: options chain plus quote per surviving symbol,
// chain aggregates computed, raw snapshot persisted under the run. A symbol
// is dropped here only when its mandatory data (quote or chain) is missing.
func (p *Pipeline) fetchChains(ctx context.Context, st *State) error {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		survivors []string
	)
	sem := make(chan struct{}, prefilterWorkers)

	for _, sym := range st.Symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			sctx := st.Contexts[sym]

			if sctx.Quote == nil {
				quote, err := p.provider.Quote(ctx, sym)
				if err != nil {
					st.addError(domain.StepChainFetch, sym, err, p.now())
					return
				}
				mu.Lock()
				sctx.Quote = quote
				mu.Unlock()
			}

			chain, err := p.provider.OptionsChain(ctx, sym)
			if err != nil {
				st.addError(domain.StepChainFetch, sym, err, p.now())
				return
			}

			if err := p.repo.PersistRawOptions(ctx, st.Run.ID, chain); err != nil {
				log.Warn().Err(err).Str("run_id", st.Run.ID).Str("symbol", sym).
					Msg("Raw chain persist failed")
			}
			if err := p.repo.PersistContracts(ctx, st.Run.ID, chain.Contracts); err != nil {
				log.Warn().Err(err).Str("run_id", st.Run.ID).Str("symbol", sym).
					Msg("Contract persist failed")
			}

			metrics := market.ComputeChainMetrics(chain)

			mu.Lock()
			defer mu.Unlock()
			sctx.ChainMetrics = &metrics
			st.Chains[sym] = chain
			survivors = append(survivors, sym)
		}(sym)
	}
	wg.Wait()

	sort.Strings(survivors)
	st.Symbols = survivors
	log.Info().Str("run_id", st.Run.ID).Int("chains", len(st.Chains)).Msg("Chain fetch complete")
	return cancelled(ctx)
}
