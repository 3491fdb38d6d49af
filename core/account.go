package core

// AccountManager is a thin convenience wrapper over Executor's resource
// operations, grounded on the teacher's account_and_balance_operations.go
// AccountManager but backed by Storage-resident resource accounts instead
// of an in-memory Ledger.TokenBalances map, so every mutation inherits
// Storage's audit log for free; balances themselves are not versioned.
type AccountManager struct {
	exec *Executor
}

func NewAccountManager(exec *Executor) *AccountManager {
	return &AccountManager{exec: exec}
}

func (am *AccountManager) CreateAccount(id string) error {
	return am.exec.CreateResource(id)
}

func (am *AccountManager) Balance(id string) (float64, error) {
	return am.exec.Balance(id)
}

func (am *AccountManager) Transfer(src, dst string, amount float64) error {
	return am.exec.Transfer(src, dst, amount)
}

func (am *AccountManager) Mint(id string, amount float64) error {
	return am.exec.Mint(id, amount)
}

func (am *AccountManager) Burn(id string, amount float64) error {
	return am.exec.Burn(id, amount)
}
