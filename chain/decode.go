// Package chain watches Solana for native transfers to challenge recipients.
//
// It owns the WebSocket log subscriptions, the transaction fetch, and the
// decode step that narrows raw instructions into the closed set the matching
// engine understands.
package chain

import (
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	payauth "github.com/safu-labs/payauth"
)

// InstructionKind tags the decode result. The matcher only acts on
// KindTransfer; everything else in a transaction is KindOther and ignored.
type InstructionKind int

const (
	KindOther InstructionKind = iota
	KindTransfer
)

// DecodedInstruction is the tagged variant yielded by DecodeInstruction.
// Transfer is set exactly when Kind is KindTransfer.
type DecodedInstruction struct {
	Kind     InstructionKind
	Transfer *payauth.TransferEvent
}

// DecodeInstruction classifies one top-level compiled instruction. Anything
// that is not a well-formed system-program transfer decodes to KindOther;
// malformed data never surfaces as an error here because a transaction with
// garbage instructions is simply not a payment.
func DecodeInstruction(msg *solana.Message, inst solana.CompiledInstruction) DecodedInstruction {
	other := DecodedInstruction{Kind: KindOther}

	if int(inst.ProgramIDIndex) >= len(msg.AccountKeys) {
		return other
	}
	if !msg.AccountKeys[inst.ProgramIDIndex].Equals(system.ProgramID) {
		return other
	}

	accounts := make([]*solana.AccountMeta, 0, len(inst.Accounts))
	for _, idx := range inst.Accounts {
		if int(idx) >= len(msg.AccountKeys) {
			return other
		}
		accounts = append(accounts, &solana.AccountMeta{PublicKey: msg.AccountKeys[idx]})
	}

	decoded, err := system.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return other
	}
	transfer, ok := decoded.Impl.(*system.Transfer)
	if !ok || transfer.Lamports == nil {
		return other
	}
	funding := transfer.GetFundingAccount()
	recipient := transfer.GetRecipientAccount()
	if funding == nil || recipient == nil {
		return other
	}

	return DecodedInstruction{
		Kind: KindTransfer,
		Transfer: &payauth.TransferEvent{
			Source:      funding.PublicKey.String(),
			Destination: recipient.PublicKey.String(),
			Lamports:    *transfer.Lamports,
		},
	}
}

// DecodeTransfers returns every top-level native transfer in the transaction,
// in instruction order.
func DecodeTransfers(tx *solana.Transaction) []payauth.TransferEvent {
	var transfers []payauth.TransferEvent
	for _, inst := range tx.Message.Instructions {
		if d := DecodeInstruction(&tx.Message, inst); d.Kind == KindTransfer {
			transfers = append(transfers, *d.Transfer)
		}
	}
	return transfers
}
