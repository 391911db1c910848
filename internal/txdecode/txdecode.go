// Package txdecode turns the raw transaction bytes delivered by the
// rawtx ZMQ topic into a models.ParsedTx, using btcd's wire codec
// instead of a verbose RPC round-trip (the node has no chance to
// decode it for us — it just published the bytes it holds).
package txdecode

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// coinbasePrevTxid is the all-zero previous txid that marks a coinbase
// input, matching models.isZeroTxid's 64-hex-char convention.
const coinbasePrevTxid = "0000000000000000000000000000000000000000000000000000000000000000"

// Parse decodes raw Bitcoin wire-format transaction bytes.
func Parse(raw []byte) (models.ParsedTx, error) {
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return models.ParsedTx{}, fmt.Errorf("deserialize tx: %w", err)
	}

	txid := msgTx.TxHash().String()

	inputs := make([]models.TxIn, len(msgTx.TxIn))
	for i, in := range msgTx.TxIn {
		prevTxid := coinbasePrevTxid
		if in.PreviousOutPoint.Hash != (chainhash.Hash{}) {
			prevTxid = in.PreviousOutPoint.Hash.String()
		}
		witness := make([][]byte, len(in.Witness))
		copy(witness, in.Witness)
		inputs[i] = models.TxIn{
			PrevTxid: prevTxid,
			PrevVout: in.PreviousOutPoint.Index,
			Sequence: in.Sequence,
			Witness:  witness,
		}
	}

	outputs := make([]models.TxOut, len(msgTx.TxOut))
	for i, out := range msgTx.TxOut {
		outputs[i] = models.TxOut{
			ValueSats: out.Value,
			Script:    append([]byte(nil), out.PkScript...),
		}
	}

	return models.ParsedTx{
		Txid:     txid,
		Version:  msgTx.Version,
		LockTime: msgTx.LockTime,
		Inputs:   inputs,
		Outputs:  outputs,
		Weight:   msgTx.SerializeSizeStripped()*3 + msgTx.SerializeSize(),
		Vsize:    (msgTx.SerializeSizeStripped()*3 + msgTx.SerializeSize() + 3) / 4,
		RawSize:  len(raw),
	}, nil
}

// OutputAddresses decodes each output script to its first extracted
// address (mainnet params), leaving an empty string where extraction
// fails — matching the alignment-by-index contract AnalyzedTx expects.
func OutputAddresses(tx models.ParsedTx) []string {
	addrs := make([]string, len(tx.Outputs))
	for i, out := range tx.Outputs {
		addrs[i] = scriptToAddress(out.Script)
	}
	return addrs
}

// InputAddresses mirrors OutputAddresses for resolved prevout scripts,
// aligned with tx.Inputs by index. scripts[i] must be the empty slice
// for any input whose prevout script wasn't resolved.
func InputAddresses(scripts [][]byte) []string {
	addrs := make([]string, len(scripts))
	for i, s := range scripts {
		addrs[i] = scriptToAddress(s)
	}
	return addrs
}

func scriptToAddress(script []byte) string {
	if len(script) == 0 {
		return ""
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, &chaincfg.MainNetParams)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return addrs[0].EncodeAddress()
}
