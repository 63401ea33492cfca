package dominion

import "errors"

var (
	// Ledger errors.
	ErrNoLedger = errors.New("dominion: no ledger configured")
	ErrSetup    = errors.New("dominion: ledger setup failed")

	// Lifecycle errors.
	ErrNotInitialized = errors.New("dominion: dominator not initialized")
	ErrNoIdentity     = errors.New("dominion: no server identity")
)
