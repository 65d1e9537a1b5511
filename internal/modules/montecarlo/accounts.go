package montecarlo

// Account is an investment account that can receive stochastic returns.
type Account interface {
	// AccountID uniquely identifies the account within a simulation.
	AccountID() string
	// AssetAllocation maps asset class names to weights; nil means the
	// account is excluded from stochastic returns.
	AssetAllocation() map[string]float64
	// ApplyStochasticReturn grows the account by the given annual return
	// and reports the growth amount.
	ApplyStochasticReturn(rate float64) float64
	// Balance is the current account value.
	Balance() float64
}

// Registry collects the accounts participating in a simulation.
// Registration order is preserved so derived matrices and random draws
// are deterministic.
type Registry struct {
	accounts map[string]Account
	order    []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]Account)}
}

// Register adds an account. Accounts without an asset allocation are
// ignored; re-registering an ID replaces the account in place.
func (r *Registry) Register(a Account) bool {
	if a.AssetAllocation() == nil {
		return false
	}
	id := a.AccountID()
	if _, exists := r.accounts[id]; !exists {
		r.order = append(r.order, id)
	}
	r.accounts[id] = a
	return true
}

// Unregister removes an account by ID.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.accounts[id]; !ok {
		return false
	}
	delete(r.accounts, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Account returns a registered account by ID.
func (r *Registry) Account(id string) (Account, bool) {
	a, ok := r.accounts[id]
	return a, ok
}

// IDs returns registered account IDs in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// ApplyReturns grows each account by its return and reports the growth
// amounts by account ID.
func (r *Registry) ApplyReturns(returns map[string]float64) map[string]float64 {
	growth := make(map[string]float64, len(returns))
	for id, rate := range returns {
		if a, ok := r.accounts[id]; ok {
			growth[id] = a.ApplyStochasticReturn(rate)
		}
	}
	return growth
}

// TotalBalance sums the balances of all registered accounts.
func (r *Registry) TotalBalance() float64 {
	total := 0.0
	for _, id := range r.order {
		total += r.accounts[id].Balance()
	}
	return total
}

// Len reports the number of registered accounts.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// InvestmentAccount is a basic Account implementation holding a balance
// and a fixed asset allocation.
type InvestmentAccount struct {
	ID         string             `yaml:"id"`
	Value      float64            `yaml:"balance"`
	Allocation map[string]float64 `yaml:"allocation"`
}

func (a *InvestmentAccount) AccountID() string { return a.ID }

func (a *InvestmentAccount) AssetAllocation() map[string]float64 { return a.Allocation }

func (a *InvestmentAccount) ApplyStochasticReturn(rate float64) float64 {
	growth := a.Value * rate
	a.Value += growth
	return growth
}

func (a *InvestmentAccount) Balance() float64 { return a.Value }
