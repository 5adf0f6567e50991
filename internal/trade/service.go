// Package trade provides the HTTP handlers for opening accounts, placing
// and withdrawing selling offers, buying, querying markets and planning
// demand.
//
// Amounts and prices cross the wire as shopspring/decimal strings; the
// market core computes in float64.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/ledger"
	"github.com/uwol/computational-economy-sub002/internal/market"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/optimizer"
	"github.com/uwol/computational-economy-sub002/internal/orderbook"
	"github.com/uwol/computational-economy-sub002/internal/pricefn"
	"github.com/uwol/computational-economy-sub002/internal/settlement"
	"github.com/uwol/computational-economy-sub002/internal/ticker"
)

// Service serves the market over HTTP.
type Service struct {
	market    *market.Service
	bank      *ledger.Bank
	inventory *ledger.Inventory
}

// NewService creates a new trade service.
func NewService(m *market.Service, bank *ledger.Bank, inventory *ledger.Inventory) *Service {
	return &Service{market: m, bank: bank, inventory: inventory}
}

// Routes mounts the API handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/accounts", s.OpenAccount)
	r.Get("/accounts/{accountID}", s.GetAccount)
	r.Post("/inventory", s.CreditInventory)

	r.Post("/offers", s.PlaceOffer)
	r.Delete("/offers/{offeror}", s.RemoveOffers)

	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{ticker}/price", s.GetPrice)
	r.Get("/markets/{ticker}/pricefunction", s.GetPriceFunction)
	r.Get("/markets/{ticker}/history", s.GetMarketHistory)
	r.Post("/markets/{ticker}/fulfillment", s.PreviewFulfillment)
	r.Post("/markets/{ticker}/buy", s.Buy)

	r.Post("/optimize", s.Optimize)
}

// --- Request/Response types ---

// OpenAccountRequest is the JSON body for POST /accounts.
type OpenAccountRequest struct {
	Owner    model.AgentID   `json:"owner"`
	Currency model.Currency  `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// AccountResponse describes a settlement account.
type AccountResponse struct {
	ID       model.AccountID `json:"id"`
	Owner    model.AgentID   `json:"owner"`
	Currency model.Currency  `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// InventoryRequest is the JSON body for POST /inventory.
type InventoryRequest struct {
	Owner  model.AgentID   `json:"owner"`
	Good   model.GoodType  `json:"good"`
	Amount decimal.Decimal `json:"amount"`
}

// InventoryResponse reports the owner's holding after a credit.
type InventoryResponse struct {
	Owner  model.AgentID   `json:"owner"`
	Good   model.GoodType  `json:"good"`
	Amount decimal.Decimal `json:"amount"`
}

// OfferRequest is the JSON body for POST /offers.
type OfferRequest struct {
	Ticker           string           `json:"ticker"` // {CUR}-{KIND}-{KEY}
	Offeror          model.AgentID    `json:"offeror"`
	Account          model.AccountID  `json:"account"`
	CommodityAccount model.AccountID  `json:"commodity_account,omitempty"`
	Property         model.PropertyID `json:"property,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	PricePerUnit     decimal.Decimal  `json:"price_per_unit"`
}

// OrderResponse describes a live order.
type OrderResponse struct {
	ID           uint64           `json:"id"`
	Ticker       string           `json:"ticker"`
	Offeror      model.AgentID    `json:"offeror"`
	Property     model.PropertyID `json:"property,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	PricePerUnit decimal.Decimal  `json:"price_per_unit"`
}

// ConstraintsRequest limits a buy. Omitted fields are unrestricted.
type ConstraintsRequest struct {
	MaxAmount       *decimal.Decimal `json:"max_amount,omitempty"`
	MaxTotalPrice   *decimal.Decimal `json:"max_total_price,omitempty"`
	MaxPricePerUnit *decimal.Decimal `json:"max_price_per_unit,omitempty"`
}

// BuyRequest is the JSON body for POST /markets/{ticker}/buy.
type BuyRequest struct {
	ConstraintsRequest
	Buyer            model.AgentID   `json:"buyer"`
	Account          model.AccountID `json:"account"`
	CommodityAccount model.AccountID `json:"commodity_account,omitempty"`
}

// FillResponse is one entry of a fulfillment set.
type FillResponse struct {
	OrderID      uint64          `json:"order_id"`
	Offeror      model.AgentID   `json:"offeror"`
	Amount       decimal.Decimal `json:"amount"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

// FulfillmentResponse previews a buy.
type FulfillmentResponse struct {
	Fills       []FillResponse  `json:"fills"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// BuyResponse is the outcome of a buy.
type BuyResponse struct {
	Amount      decimal.Decimal    `json:"amount"`
	Spent       decimal.Decimal    `json:"spent"`
	Cause       settlement.Cause   `json:"cause"`
	Settlements []model.Settlement `json:"settlements"`
}

// PriceResponse is the JSON body of GET /markets/{ticker}/price. A null
// marginal price means the market is sold out.
type PriceResponse struct {
	Ticker        string              `json:"ticker"`
	MarginalPrice decimal.NullDecimal `json:"marginal_price"`
}

// IntervalResponse is one piece of a price function decomposition.
type IntervalResponse struct {
	LeftBoundary            decimal.Decimal `json:"left_boundary"`
	RightBoundary           decimal.Decimal `json:"right_boundary"`
	CoefficientXPower0      decimal.Decimal `json:"coefficient_x_power_0"`
	CoefficientXPowerMinus1 decimal.Decimal `json:"coefficient_x_power_minus_1"`
}

// PriceFunctionResponse is the JSON body of GET /markets/{ticker}/pricefunction.
type PriceFunctionResponse struct {
	Ticker    string             `json:"ticker"`
	Depth     decimal.Decimal    `json:"depth"`
	Intervals []IntervalResponse `json:"intervals"`
}

// FunctionSpec describes a production or utility function.
type FunctionSpec struct {
	Type         string                     `json:"type"` // cobb-douglas, ces or root
	Coefficient  float64                    `json:"coefficient"`
	Exponents    map[model.GoodType]float64 `json:"exponents,omitempty"`
	Coefficients map[model.GoodType]float64 `json:"coefficients,omitempty"`
	Substitution float64                    `json:"substitution,omitempty"`
	Homogenity   float64                    `json:"homogenity,omitempty"`
	Input        model.GoodType             `json:"input,omitempty"`
}

// OptimizeRequest is the JSON body for POST /optimize. Inputs without a
// fixed price are priced by the goods market in Currency.
type OptimizeRequest struct {
	Function    FunctionSpec                       `json:"function"`
	Currency    model.Currency                     `json:"currency"`
	FixedPrices map[model.GoodType]decimal.Decimal `json:"fixed_prices,omitempty"`
	Budget      decimal.Decimal                    `json:"budget"`
	Inventory   map[model.GoodType]decimal.Decimal `json:"inventory,omitempty"`
}

// OptimizeResponse is the planned bundle and its output.
type OptimizeResponse struct {
	Bundle map[model.GoodType]decimal.Decimal `json:"bundle"`
	Output decimal.Decimal                    `json:"output"`
}

// --- HTTP Handlers ---

// OpenAccount handles POST /api/v1/accounts
func (s *Service) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" || req.Currency == "" {
		writeError(w, "owner and currency are required", http.StatusBadRequest)
		return
	}

	acct, err := s.bank.Open(req.Owner, req.Currency, req.Balance.InexactFloat64())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("account opened", "id", acct.ID, "owner", acct.Owner, "currency", acct.Currency)
	writeJSON(w, http.StatusCreated, accountResponse(acct))
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := model.AccountID(chi.URLParam(r, "accountID"))

	acct, err := s.bank.Account(id)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(acct))
}

// CreditInventory handles POST /api/v1/inventory
func (s *Service) CreditInventory(w http.ResponseWriter, r *http.Request) {
	var req InventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" || req.Good == "" {
		writeError(w, "owner and good are required", http.StatusBadRequest)
		return
	}
	if err := s.inventory.Add(req.Owner, req.Good, req.Amount.InexactFloat64()); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, InventoryResponse{
		Owner:  req.Owner,
		Good:   req.Good,
		Amount: decimal.NewFromFloat(s.inventory.Amount(req.Owner, req.Good)),
	})
}

// PlaceOffer handles POST /api/v1/offers
func (s *Service) PlaceOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	key, err := ticker.Parse(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Offeror == "" {
		writeError(w, "offeror is required", http.StatusBadRequest)
		return
	}

	order, err := s.market.PlaceSellingOffer(r.Context(), market.Offer{
		Market:           key,
		Offeror:          req.Offeror,
		Account:          req.Account,
		CommodityAccount: req.CommodityAccount,
		Property:         req.Property,
		Amount:           req.Amount.InexactFloat64(),
		PricePerUnit:     req.PricePerUnit.InexactFloat64(),
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse(order))
}

// RemoveOffers handles DELETE /api/v1/offers/{offeror}
// Withdraws all offers of the offeror, optionally only in ?ticker=.
func (s *Service) RemoveOffers(w http.ResponseWriter, r *http.Request) {
	offeror := model.AgentID(chi.URLParam(r, "offeror"))

	var scope market.Scope
	if t := r.URL.Query().Get("ticker"); t != "" {
		key, err := ticker.Parse(t)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		scope = market.Scope{Currency: key.Currency, Commodity: key.Commodity}
	}

	removed := s.market.RemoveAllSellingOffers(r.Context(), offeror, scope)
	orders := make([]OrderResponse, 0, len(removed))
	for _, o := range removed {
		orders = append(orders, orderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": orders})
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.market.Snapshots(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.MarketSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetPrice handles GET /api/v1/markets/{ticker}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	key, ok := parseTicker(w, r)
	if !ok {
		return
	}

	resp := PriceResponse{Ticker: key.String()}
	if mp := s.market.GetMarginalPrice(key.Currency, key.Commodity); !math.IsNaN(mp) {
		resp.MarginalPrice = decimal.NewNullDecimal(decimal.NewFromFloat(mp))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPriceFunction handles GET /api/v1/markets/{ticker}/pricefunction
// Returns the interval decomposition, up to ?budget= if given.
func (s *Service) GetPriceFunction(w http.ResponseWriter, r *http.Request) {
	key, ok := parseTicker(w, r)
	if !ok {
		return
	}
	budget := math.Inf(1)
	if b := r.URL.Query().Get("budget"); b != "" {
		v, err := strconv.ParseFloat(b, 64)
		if err != nil || math.IsNaN(v) {
			writeError(w, "budget must be a number", http.StatusBadRequest)
			return
		}
		budget = v
	}

	pf := s.market.GetPriceFunction(key.Currency, key.Commodity)
	resp := PriceFunctionResponse{
		Ticker:    key.String(),
		Depth:     decimal.NewFromFloat(pf.Depth()),
		Intervals: []IntervalResponse{},
	}
	for _, iv := range pf.AnalyticalPriceFunctionParameters(budget) {
		resp.Intervals = append(resp.Intervals, intervalResponse(iv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMarketHistory handles GET /api/v1/markets/{ticker}/history
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := parseTicker(w, r)
	if !ok {
		return
	}

	history, err := s.market.History(r.Context(), key)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []model.Settlement{}
	}
	writeJSON(w, http.StatusOK, history)
}

// PreviewFulfillment handles POST /api/v1/markets/{ticker}/fulfillment
func (s *Service) PreviewFulfillment(w http.ResponseWriter, r *http.Request) {
	key, ok := parseTicker(w, r)
	if !ok {
		return
	}
	var req ConstraintsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	set, err := s.market.FindBestFulfillmentSet(key, req.constraints())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	resp := FulfillmentResponse{
		Fills:       make([]FillResponse, 0, len(set.Fills)),
		TotalAmount: decimal.NewFromFloat(set.TotalAmount),
		TotalPrice:  decimal.NewFromFloat(set.TotalPrice),
	}
	for _, f := range set.Fills {
		resp.Fills = append(resp.Fills, FillResponse{
			OrderID:      f.Order.ID,
			Offeror:      f.Order.Offeror,
			Amount:       decimal.NewFromFloat(f.Amount),
			PricePerUnit: decimal.NewFromFloat(f.Order.PricePerUnit),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Buy handles POST /api/v1/markets/{ticker}/buy
// Property markets are bought unit by unit.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	key, ok := parseTicker(w, r)
	if !ok {
		return
	}
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sreq := settlement.Request{
		Constraints:      req.constraints(),
		Buyer:            req.Buyer,
		Account:          req.Account,
		CommodityAccount: req.CommodityAccount,
	}
	buy := s.market.Buy
	if key.Commodity.Kind == model.KindProperty {
		buy = s.market.BuyProperty
	}

	res, err := buy(r.Context(), key, sreq)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	resp := BuyResponse{
		Amount:      decimal.NewFromFloat(res.Amount),
		Spent:       decimal.NewFromFloat(res.Spent),
		Cause:       res.Cause,
		Settlements: res.Settlements,
	}
	if resp.Settlements == nil {
		resp.Settlements = []model.Settlement{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Optimize handles POST /api/v1/optimize
// Plans the output-maximizing bundle for the given function and budget.
func (s *Service) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	fn, err := req.Function.build()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = model.CurrencyEuro
	}

	prices := s.market.PriceFunctions(req.Currency, fn.InputTypes())
	for g, p := range req.FixedPrices {
		if _, ok := prices[g]; ok {
			prices[g] = pricefn.NewFixed(p.InexactFloat64())
		}
	}
	inventory := make(model.Bundle, len(req.Inventory))
	for g, v := range req.Inventory {
		inventory[g] = v.InexactFloat64()
	}

	bundle := s.market.Optimizer().CalculateOutputMaximizingInputs(
		fn, prices, req.Budget.InexactFloat64(), optimizer.WithInventory(inventory))

	resp := OptimizeResponse{
		Bundle: make(map[model.GoodType]decimal.Decimal, len(bundle)),
		Output: decimal.NewFromFloat(fn.F(bundle)),
	}
	for g, v := range bundle {
		resp.Bundle[g] = decimal.NewFromFloat(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func (c ConstraintsRequest) constraints() orderbook.Constraints {
	limit := func(d *decimal.Decimal) float64 {
		if d == nil {
			return math.Inf(1)
		}
		return d.InexactFloat64()
	}
	return orderbook.Constraints{
		MaxAmount:       limit(c.MaxAmount),
		MaxTotalPrice:   limit(c.MaxTotalPrice),
		MaxPricePerUnit: limit(c.MaxPricePerUnit),
	}
}

func (f FunctionSpec) build() (convex.Function, error) {
	coefficient := f.Coefficient
	if coefficient == 0 {
		coefficient = 1
	}
	switch f.Type {
	case "cobb-douglas":
		return convex.NewCobbDouglas(coefficient, f.Exponents)
	case "ces":
		return convex.NewCES(coefficient, f.Coefficients, f.Substitution, f.Homogenity)
	case "root":
		return convex.NewRoot(f.Input, coefficient)
	default:
		return nil, errors.New("function type must be cobb-douglas, ces or root")
	}
}

func parseTicker(w http.ResponseWriter, r *http.Request) (model.MarketKey, bool) {
	key, err := ticker.Parse(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return model.MarketKey{}, false
	}
	return key, true
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrAuthentication):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrCurrencyMismatch),
		errors.Is(err, market.ErrInvalidCommodity),
		errors.Is(err, orderbook.ErrInvalidAmount),
		errors.Is(err, orderbook.ErrInvalidPrice),
		errors.Is(err, orderbook.ErrPropertyAmount),
		errors.Is(err, orderbook.ErrMissingAccount),
		errors.Is(err, orderbook.ErrCounterAccount),
		errors.Is(err, settlement.ErrMissingBuyer),
		errors.Is(err, settlement.ErrCounterAccount),
		errors.Is(err, settlement.ErrNotProperty),
		errors.Is(err, settlement.ErrBuyerAccount),
		errors.Is(err, market.ErrOfferAccount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func accountResponse(a ledger.Account) AccountResponse {
	return AccountResponse{
		ID:       a.ID,
		Owner:    a.Owner,
		Currency: a.Currency,
		Balance:  decimal.NewFromFloat(a.Balance),
	}
}

func orderResponse(o model.Order) OrderResponse {
	return OrderResponse{
		ID:           o.ID,
		Ticker:       ticker.Format(o.Market),
		Offeror:      o.Offeror,
		Property:     o.Property,
		Amount:       decimal.NewFromFloat(o.Amount),
		PricePerUnit: decimal.NewFromFloat(o.PricePerUnit),
	}
}

func intervalResponse(iv pricefn.Interval) IntervalResponse {
	return IntervalResponse{
		LeftBoundary:            finite(iv.LeftBoundary),
		RightBoundary:           finite(iv.RightBoundary),
		CoefficientXPower0:      finite(iv.CoefficientXPower0),
		CoefficientXPowerMinus1: finite(iv.CoefficientXPowerMinus1),
	}
}

// finite converts v, clamping infinities to the largest float64.
func finite(v float64) decimal.Decimal {
	switch {
	case math.IsInf(v, 1):
		v = math.MaxFloat64
	case math.IsInf(v, -1):
		v = -math.MaxFloat64
	}
	return decimal.NewFromFloat(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
