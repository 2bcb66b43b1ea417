package nft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// Registry errors. The registry has its own error space independent of the
// vault's and the marketplace's.
var (
	ErrUnauthorized = errors.New("nft: unauthorized")
	ErrNotFound     = errors.New("nft: certificate not found")
)

// Registry manages bond ownership certificates. Exactly one certificate
// exists per position; it is minted when the position is created and is
// never destroyed. Minting is restricted to the registrar principal (the
// vault's engine account); transfers require the caller to be the current
// holder.
type Registry struct {
	ledger    domain.Ledger
	registrar domain.Principal
	baseURI   string
	logger    *slog.Logger
}

// NewRegistry creates a certificate registry. baseURI is the prefix for
// token metadata URIs; the position id is appended at mint time.
func NewRegistry(ledger domain.Ledger, registrar domain.Principal, baseURI string, logger *slog.Logger) *Registry {
	return &Registry{
		ledger:    ledger,
		registrar: registrar,
		baseURI:   baseURI,
		logger:    logger.With(slog.String("component", "nft")),
	}
}

// MintTx stages a new certificate inside an existing ledger transaction.
// Only the registrar may mint, and a position may be certificated once.
func (r *Registry) MintTx(ctx context.Context, tx domain.Tx, call domain.Call, positionID uint64, to domain.Principal) error {
	if call.Caller != r.registrar {
		return ErrUnauthorized
	}
	if _, err := tx.Certificate(ctx, positionID); err == nil {
		return fmt.Errorf("nft: mint position %d: %w", positionID, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return tx.PutCertificate(ctx, domain.Certificate{
		PositionID: positionID,
		Holder:     to,
		TokenURI:   fmt.Sprintf("%s%d", r.baseURI, positionID),
	})
}

// TransferTx stages a holder change inside an existing ledger transaction.
// The caller must be the current holder and from must match it; the double
// check rejects stale-intent calls where custody moved since the caller
// last looked.
func (r *Registry) TransferTx(ctx context.Context, tx domain.Tx, call domain.Call, positionID uint64, from, to domain.Principal) error {
	cert, err := tx.Certificate(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if call.Caller != cert.Holder || from != cert.Holder {
		return ErrUnauthorized
	}
	cert.Holder = to
	return tx.PutCertificate(ctx, cert)
}

// Transfer moves a certificate between holders as a standalone operation.
func (r *Registry) Transfer(ctx context.Context, call domain.Call, positionID uint64, from, to domain.Principal) error {
	err := r.ledger.Update(ctx, func(tx domain.Tx) error {
		return r.TransferTx(ctx, tx, call, positionID, from, to)
	})
	if err != nil {
		return err
	}
	r.logger.Info("certificate transferred",
		slog.Uint64("position_id", positionID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	return nil
}

// GetOwner returns the current holder, or ok=false for unknown ids.
func (r *Registry) GetOwner(ctx context.Context, positionID uint64) (domain.Principal, bool, error) {
	var holder domain.Principal
	found := false
	err := r.ledger.View(ctx, func(tx domain.Tx) error {
		cert, err := tx.Certificate(ctx, positionID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		holder = cert.Holder
		found = true
		return nil
	})
	return holder, found, err
}

// GetTokenURI returns the metadata URI, or ok=false for unknown ids.
func (r *Registry) GetTokenURI(ctx context.Context, positionID uint64) (string, bool, error) {
	var uri string
	found := false
	err := r.ledger.View(ctx, func(tx domain.Tx) error {
		cert, err := tx.Certificate(ctx, positionID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		uri = cert.TokenURI
		found = true
		return nil
	})
	return uri, found, err
}

// HolderTx reads the live holder inside a transaction. Privileged vault and
// marketplace operations use this for fresh capability checks instead of any
// cached role.
func (r *Registry) HolderTx(ctx context.Context, tx domain.Tx, positionID uint64) (domain.Principal, error) {
	cert, err := tx.Certificate(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return cert.Holder, nil
}
