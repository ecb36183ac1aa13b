package rpcclient

// Wire types for the coin daemon's getblock (verbosity=2) response, the
// self-describing JSON representation spec.md §9 says should be
// converted, once, into the typed domain.DecodedBlock record. Nothing
// outside this package and decode.go should ever see these types.

type wireBlock struct {
	Hash       string  `json:"hash"`
	Height     int64   `json:"height"`
	Time       int64   `json:"time"`
	Difficulty float64 `json:"difficulty"`
	Tx         []wireTx `json:"tx"`
}

type wireTx struct {
	Txid string    `json:"txid"`
	Vin  []wireVin  `json:"vin"`
	Vout []wireVout `json:"vout"`
}

type wireVin struct {
	Txid     string `json:"txid,omitempty"`
	Vout     uint32 `json:"vout,omitempty"`
	Coinbase string `json:"coinbase,omitempty"`
}

type wireVout struct {
	// Value is in whole coins (BTC-style), not satoshis: this is how
	// Bitcoin Core's JSON-RPC actually reports it. The decode step in
	// decode.go is responsible for the one-time conversion to the integer
	// satoshis spec.md §4.1 specifies as the decoded interface.
	Value        float64         `json:"value"`
	N            uint32          `json:"n"`
	ScriptPubKey wireScriptPubKey `json:"scriptPubKey"`
}

type wireScriptPubKey struct {
	Hex string `json:"hex"`
}

// wireRawTx is the subset of getrawtransaction(txid, true)'s response
// the output resolver's RPC-backed re-index (spec.md §4.4) needs: just
// enough to locate the block the referenced output was created in.
type wireRawTx struct {
	BlockHash string `json:"blockhash"`
}
