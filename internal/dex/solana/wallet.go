// Package solana adapts the Jupiter aggregator and a Solana RPC wallet to the
// execution interfaces.
package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"snipebot-go/internal/execution"
)

var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

// Preflight and signature verification failures from sendTransaction.
const (
	rpcCodeSimulationFailed = -32002
	rpcCodeSigVerifyFailed  = -32003
)

func LoadPrivateKeyFromEnv() (solana.PrivateKey, error) {
	_ = godotenv.Load() // best-effort
	return ParsePrivateKey(os.Getenv("SOLANA_PRIVATE_KEY_BASE58"))
}

// ParsePrivateKey decodes a base58 secret key.
func ParsePrivateKey(b58 string) (solana.PrivateKey, error) {
	if b58 == "" {
		return nil, errors.New("SOLANA_PRIVATE_KEY_BASE58 not set")
	}
	return solana.PrivateKeyFromBase58(b58)
}

// ParseCommitment maps a config string to an RPC commitment, defaulting to confirmed.
func ParseCommitment(commit string) rpc.CommitmentType {
	switch commit {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// Wallet signs with a local key and talks to a Solana RPC node. It implements
// execution.Chain.
type Wallet struct {
	RPC    *rpc.Client
	Owner  solana.PrivateKey
	Commit rpc.CommitmentType
}

// NewWallet wires a wallet to the RPC endpoint at rpcURL.
func NewWallet(rpcURL string, owner solana.PrivateKey, commit string) *Wallet {
	return &Wallet{
		RPC:    rpc.New(rpcURL),
		Owner:  owner,
		Commit: ParseCommitment(commit),
	}
}

func (w *Wallet) PublicKey() string { return w.Owner.PublicKey().String() }

// Sign places the wallet signature on a serialized transaction and returns the
// serialized result.
func (w *Wallet) Sign(_ context.Context, raw []byte) ([]byte, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	owner := w.Owner.PublicKey()
	idx := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(owner) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("wallet %s is not a signer of the transaction", owner)
	}
	sig, err := w.Owner.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[idx] = sig
	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal signed tx: %w", err)
	}
	return out, nil
}

// Submit sends a signed transaction. Preflight failures wrap execution.ErrRejected.
func (w *Wallet) Submit(ctx context.Context, signed []byte, opts execution.SubmitOptions) (string, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(signed))
	if err != nil {
		return "", execution.Permanent(fmt.Errorf("unmarshal signed tx: %w", err))
	}
	sig, err := w.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: w.Commit,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && (rpcErr.Code == rpcCodeSimulationFailed || rpcErr.Code == rpcCodeSigVerifyFailed) {
			return "", fmt.Errorf("send transaction: %s: %w", rpcErr.Message, execution.ErrRejected)
		}
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig.String(), nil
}

// Confirm reports the status of txID at the requested commitment.
func (w *Wallet) Confirm(ctx context.Context, txID string, commitment string) (execution.ConfirmStatus, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return execution.StatusPending, fmt.Errorf("parse signature: %w", err)
	}
	out, err := w.RPC.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return execution.StatusPending, fmt.Errorf("signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return execution.StatusPending, nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return execution.StatusFailed, nil
	}
	if reached(st.ConfirmationStatus, ParseCommitment(commitment)) {
		return execution.StatusConfirmed, nil
	}
	return execution.StatusPending, nil
}

func reached(have rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := map[rpc.ConfirmationStatusType]int{
		rpc.ConfirmationStatusProcessed: 1,
		rpc.ConfirmationStatusConfirmed: 2,
		rpc.ConfirmationStatusFinalized: 3,
	}
	need := 2
	switch want {
	case rpc.CommitmentProcessed:
		need = 1
	case rpc.CommitmentFinalized:
		need = 3
	}
	return rank[have] >= need
}

// Balance returns the wallet SOL balance.
func (w *Wallet) Balance(ctx context.Context) (decimal.Decimal, error) {
	out, err := w.RPC.GetBalance(ctx, w.Owner.PublicKey(), w.Commit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(out.Value), 0).Div(lamportsPerSOL), nil
}

// TokenDecimals looks up the decimals of a mint.
func (w *Wallet) TokenDecimals(ctx context.Context, mint string) (uint8, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("parse mint %q: %w", mint, err)
	}
	out, err := w.RPC.GetTokenSupply(ctx, pk, w.Commit)
	if err != nil {
		return 0, fmt.Errorf("token supply %s: %w", mint, err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("token supply %s: empty response", mint)
	}
	return out.Value.Decimals, nil
}

// TokenBalance returns the raw amount of mint held in the owner's associated
// token account.
func (w *Wallet) TokenBalance(ctx context.Context, mint string) (uint64, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("parse mint %q: %w", mint, err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.Owner.PublicKey(), pk)
	if err != nil {
		return 0, fmt.Errorf("associated account for %s: %w", mint, err)
	}
	out, err := w.RPC.GetTokenAccountBalance(ctx, ata, w.Commit)
	if err != nil {
		return 0, fmt.Errorf("token balance %s: %w", mint, err)
	}
	if out == nil || out.Value == nil {
		return 0, fmt.Errorf("token balance %s: empty response", mint)
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("token balance %s: %w", mint, err)
	}
	return amount, nil
}

// PriorityFee returns the 75th percentile of recent non-zero compute-unit
// prices, in micro-lamports.
func (w *Wallet) PriorityFee(ctx context.Context) (uint64, error) {
	out, err := w.RPC.GetRecentPrioritizationFees(ctx, solana.PublicKeySlice{})
	if err != nil {
		return 0, fmt.Errorf("recent prioritization fees: %w", err)
	}
	fees := make([]uint64, 0, len(out))
	for _, f := range out {
		if f.PrioritizationFee > 0 {
			fees = append(fees, f.PrioritizationFee)
		}
	}
	if len(fees) == 0 {
		return 0, errors.New("no recent prioritization fees")
	}
	slices.Sort(fees)
	return fees[(len(fees)-1)*3/4], nil
}
