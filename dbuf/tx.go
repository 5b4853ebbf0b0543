package dbuf

// Tx is the minimal transaction handle threaded through the dirty-path
// operations of spec.md §6. It carries nothing but the TXG number the
// transaction manager collaborator assigned; all other transaction state
// (quota, accounting) lives with that collaborator, not here.
type Tx struct {
	txg uint64
}

// NewTx opens a handle for the cache's currently-open TXG.
func (c *Cache) NewTx() *Tx {
	return &Tx{txg: c.txn.CurrentTXG()}
}

// TxForTXG constructs a handle for an explicit TXG number, used by tests
// and by callers replaying a specific transaction group.
func TxForTXG(txg uint64) *Tx {
	return &Tx{txg: txg}
}

// TXG returns the transaction group number.
func (tx *Tx) TXG() uint64 { return tx.txg }
