package nft

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/store/memory"
)

const (
	registrar = domain.Principal("0x00000000000000000000000000000000000000aa")
	alice     = domain.Principal("0x0000000000000000000000000000000000000001")
	bob       = domain.Principal("0x0000000000000000000000000000000000000002")
)

func newTestRegistry(t *testing.T) (*Registry, *memory.Ledger) {
	t.Helper()
	ledger := memory.NewLedger()
	return NewRegistry(ledger, registrar, "https://bonds.example/meta/", slog.Default()), ledger
}

func mintCert(t *testing.T, reg *Registry, ledger *memory.Ledger, id uint64, to domain.Principal) {
	t.Helper()
	require.NoError(t, ledger.Update(context.Background(), func(tx domain.Tx) error {
		return reg.MintTx(context.Background(), tx, domain.Call{Caller: registrar}, id, to)
	}))
}

func TestMintRequiresRegistrar(t *testing.T) {
	ctx := context.Background()
	reg, ledger := newTestRegistry(t)

	err := ledger.Update(ctx, func(tx domain.Tx) error {
		return reg.MintTx(ctx, tx, domain.Call{Caller: alice}, 1, alice)
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	mintCert(t, reg, ledger, 1, alice)

	owner, ok, err := reg.GetOwner(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, owner)
}

func TestMintOncePerPosition(t *testing.T) {
	ctx := context.Background()
	reg, ledger := newTestRegistry(t)
	mintCert(t, reg, ledger, 1, alice)

	err := ledger.Update(ctx, func(tx domain.Tx) error {
		return reg.MintTx(ctx, tx, domain.Call{Caller: registrar}, 1, bob)
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestTransferHolderOnly(t *testing.T) {
	ctx := context.Background()
	reg, ledger := newTestRegistry(t)
	mintCert(t, reg, ledger, 1, alice)

	// Caller is not the holder.
	err := reg.Transfer(ctx, domain.Call{Caller: bob}, 1, alice, bob)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Stale intent: caller is the holder but from is not.
	err = reg.Transfer(ctx, domain.Call{Caller: alice}, 1, bob, alice)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Unknown id.
	err = reg.Transfer(ctx, domain.Call{Caller: alice}, 99, alice, bob)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, reg.Transfer(ctx, domain.Call{Caller: alice}, 1, alice, bob))

	owner, ok, err := reg.GetOwner(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bob, owner)

	// Previous holder lost the capability.
	err = reg.Transfer(ctx, domain.Call{Caller: alice}, 1, alice, bob)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestReadsReturnNoneForUnknownIDs(t *testing.T) {
	ctx := context.Background()
	reg, ledger := newTestRegistry(t)

	_, ok, err := reg.GetOwner(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = reg.GetTokenURI(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	mintCert(t, reg, ledger, 7, alice)

	uri, ok, err := reg.GetTokenURI(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://bonds.example/meta/7", uri)
}
