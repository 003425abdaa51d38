package battle

// Token reward amounts recorded when a PvP battle finishes. The battle core
// only records them on the battle record; crediting is performed by the
// surrounding reward ledger code.
const (
	RewardWinner = 100
	RewardLoser  = 25
)
