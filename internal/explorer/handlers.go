package explorer

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/gin-gonic/gin"
)

// blockView/txView/addressView/outputView are the explorer's wire
// representations: hashes hex-encoded for display, decimals passed
// through as strings so clients never round-trip through float JSON
// numbers.

type blockView struct {
	Hash          string `json:"hash"`
	Height        int64  `json:"height"`
	Time          string `json:"time"`
	Difficulty    float64 `json:"difficulty"`
	TotalIn       string `json:"total_in"`
	TotalOut      string `json:"total_out"`
	CoinbaseValue string `json:"coinbase_value"`
}

func toBlockView(b *domain.Block) blockView {
	return blockView{
		Hash:          hex.EncodeToString(b.Hash[:]),
		Height:        b.Height,
		Time:          b.NTime.UTC().Format("2006-01-02T15:04:05Z"),
		Difficulty:    b.Difficulty,
		TotalIn:       b.TotalIn.String(),
		TotalOut:      b.TotalOut.String(),
		CoinbaseValue: b.CoinbaseValue().String(),
	}
}

type txView struct {
	Txid       string  `json:"txid"`
	Coinbase   bool    `json:"coinbase"`
	TotalIn    string  `json:"total_in"`
	TotalOut   string  `json:"total_out"`
	NetworkFee *string `json:"network_fee,omitempty"`
}

func toTxView(t *domain.Transaction) txView {
	v := txView{
		Txid:     hex.EncodeToString(t.Txid[:]),
		Coinbase: t.Coinbase,
		TotalIn:  t.TotalIn.String(),
		TotalOut: t.TotalOut.String(),
	}
	if t.NetworkFee != nil {
		s := t.NetworkFee.String()
		v.NetworkFee = &s
	}
	return v
}

type addressView struct {
	Hash     string `json:"hash"`
	Version  int    `json:"version"`
	TotalIn  string `json:"total_in"`
	TotalOut string `json:"total_out"`
	Balance  string `json:"balance"`
}

func toAddressView(a *domain.Address) addressView {
	return addressView{
		Hash:     hex.EncodeToString(a.Hash),
		Version:  a.Version,
		TotalIn:  a.TotalIn.String(),
		TotalOut: a.TotalOut.String(),
		Balance:  a.Balance().String(),
	}
}

func (s *Server) listBlocks(c *gin.Context) {
	limit := s.cfg.BlocksPerPage
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 {
		limit = v
	}
	blocks, err := s.store.LatestBlocks(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]blockView, len(blocks))
	for i := range blocks {
		views[i] = toBlockView(&blocks[i])
	}
	c.JSON(http.StatusOK, gin.H{"blocks": views})
}

func (s *Server) blockByHash(c *gin.Context) {
	hash, err := decodeHashParam(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hash"})
		return
	}
	b, err := s.store.BlockByHash(c.Request.Context(), hash)
	if err != nil {
		respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBlockView(b))
}

func (s *Server) listTransactions(c *gin.Context) {
	limit := s.cfg.TransPerPage
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 {
		limit = v
	}
	txs, err := s.store.LatestTxs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]txView, len(txs))
	for i := range txs {
		views[i] = toTxView(&txs[i])
	}
	c.JSON(http.StatusOK, gin.H{"transactions": views})
}

func (s *Server) transactionByTxid(c *gin.Context) {
	txid, err := decodeHashParam(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid txid"})
		return
	}
	t, err := s.store.TxByTxid(c.Request.Context(), txid)
	if err != nil {
		respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTxView(t))
}

func (s *Server) addressByHash(c *gin.Context) {
	raw, err := hex.DecodeString(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	a, err := s.store.AddressByHash(c.Request.Context(), raw)
	if err != nil {
		respondLookupError(c, err)
		return
	}

	limit := s.cfg.OutputsPerPage
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 {
		limit = v
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	outputs, err := s.store.OutputsOfAddress(c.Request.Context(), raw, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": toAddressView(a),
		"outputs": outputs,
	})
}

// search implements spec.md §6's unified endpoint: addresses, then
// transactions, then blocks, short-circuiting on the first unique hit —
// the same precedence original_source/lincoln/views.py's /search/<query>
// route uses.
func (s *Server) search(c *gin.Context) {
	query := c.Param("query")
	ctx := c.Request.Context()

	if raw, err := hex.DecodeString(query); err == nil {
		if addrs, err := s.store.SearchAddressPrefix(ctx, raw, s.cfg.SearchResultLimit); err == nil && len(addrs) == 1 {
			c.JSON(http.StatusOK, gin.H{"type": "address", "result": toAddressView(&addrs[0])})
			return
		}

		if txs, err := s.store.SearchTxidPrefix(ctx, raw, s.cfg.SearchResultLimit); err == nil && len(txs) == 1 {
			c.JSON(http.StatusOK, gin.H{"type": "transaction", "result": toTxView(&txs[0])})
			return
		}

		if blocks, err := s.store.SearchBlockHashPrefix(ctx, raw, s.cfg.SearchResultLimit); err == nil && len(blocks) == 1 {
			c.JSON(http.StatusOK, gin.H{"type": "block", "result": toBlockView(&blocks[0])})
			return
		}

		addrs, _ := s.store.SearchAddressPrefix(ctx, raw, s.cfg.SearchResultLimit)
		txs, _ := s.store.SearchTxidPrefix(ctx, raw, s.cfg.SearchResultLimit)
		blocks, _ := s.store.SearchBlockHashPrefix(ctx, raw, s.cfg.SearchResultLimit)
		if len(addrs) > 0 || len(txs) > 0 || len(blocks) > 0 {
			addrViews := make([]addressView, len(addrs))
			for i := range addrs {
				addrViews[i] = toAddressView(&addrs[i])
			}
			txViews := make([]txView, len(txs))
			for i := range txs {
				txViews[i] = toTxView(&txs[i])
			}
			blockViews := make([]blockView, len(blocks))
			for i := range blocks {
				blockViews[i] = toBlockView(&blocks[i])
			}
			c.JSON(http.StatusOK, gin.H{"type": "ambiguous", "addresses": addrViews, "transactions": txViews, "blocks": blockViews})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"type": "none", "result": nil})
}

func decodeHashParam(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, errors.New("explorer: malformed hash")
	}
	copy(out[:], b)
	return out, nil
}

// respondLookupError translates store lookup failures into HTTP
// responses; per spec.md §7, search already degrades to empty results,
// but direct-lookup routes (block/tx/address by exact hash) surface a
// 404 rather than pretending the entity doesn't exist.
func respondLookupError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
