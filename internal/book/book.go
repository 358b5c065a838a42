// Package book implements the continuous double auction: one central
// limit order book per (market, outcome) with strict price-time priority.
// The package holds no money and performs no I/O: funds, doctrine and
// clearing are composed around it by the venue, which commits each fill
// through a callback before the book mutates any state.
package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/types"
)

// FillFn commits one fill before it is applied to the book. The price is
// the resting (maker) order's price. Returning an error vetoes the fill
// and stops the match walk; nothing is mutated for a vetoed fill.
type FillFn func(maker, taker *types.Order, price, qty decimal.Decimal) error

// ExpireFn is invoked for a resting order whose time-in-force lapsed. The
// order has already been removed from the book and marked expired.
type ExpireFn func(maker *types.Order)

// bookSide holds one side's price levels, best price at index 0: bids
// descend, asks ascend.
type bookSide struct {
	side   types.Side
	levels []*priceLevel
}

// better reports whether price a takes priority over b on this side.
func (s *bookSide) better(a, b decimal.Decimal) bool {
	if s.side == types.SideBuy {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// getLevel finds or inserts the level for price, keeping the slice sorted
// best-first.
func (s *bookSide) getLevel(price decimal.Decimal) *priceLevel {
	i := sort.Search(len(s.levels), func(i int) bool {
		return !s.better(s.levels[i].price, price)
	})
	if i < len(s.levels) && s.levels[i].price.Equal(price) {
		return s.levels[i]
	}
	level := newPriceLevel(price)
	s.levels = append(s.levels, nil)
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = level
	return level
}

// findLevel returns the existing level for price, or nil.
func (s *bookSide) findLevel(price decimal.Decimal) (*priceLevel, int) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return !s.better(s.levels[i].price, price)
	})
	if i < len(s.levels) && s.levels[i].price.Equal(price) {
		return s.levels[i], i
	}
	return nil, -1
}

// dropLevelAt removes an emptied level.
func (s *bookSide) dropLevelAt(i int) {
	s.levels = append(s.levels[:i], s.levels[i+1:]...)
}

func (s *bookSide) best() (decimal.Decimal, bool) {
	if len(s.levels) == 0 {
		return decimal.Zero, false
	}
	return s.levels[0].price, true
}

// Book is one (market, outcome) order book. Callers serialize access via
// the owning market's lock.
type Book struct {
	MarketID string
	Outcome  types.Outcome
	bids     *bookSide
	asks     *bookSide
}

// NewBook creates an empty book.
func NewBook(marketID string, outcome types.Outcome) *Book {
	return &Book{
		MarketID: marketID,
		Outcome:  outcome,
		bids:     &bookSide{side: types.SideBuy},
		asks:     &bookSide{side: types.SideSell},
	}
}

func (b *Book) sideFor(side types.Side) *bookSide {
	if side == types.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) opposing(side types.Side) *bookSide {
	if side == types.SideBuy {
		return b.asks
	}
	return b.bids
}

// Insert rests an order at its limit price. The caller has already locked
// funds and set the order's status.
func (b *Book) Insert(o *types.Order) {
	b.sideFor(o.Side).getLevel(o.Price).addOrder(o)
}

// Remove takes a resting order off the book. Returns ErrOrderNotFound if
// it is not resting (e.g. lost a cancel/match race).
func (b *Book) Remove(o *types.Order) error {
	side := b.sideFor(o.Side)
	level, li := side.findLevel(o.Price)
	if level == nil {
		return types.ErrOrderNotFound
	}
	oi := level.indexOf(o.OrderID)
	if oi < 0 {
		return types.ErrOrderNotFound
	}
	level.removeAt(oi)
	if level.empty() {
		side.dropLevelAt(li)
	}
	return nil
}

// crosses reports whether the taker's limit crosses the given resting
// price. Market orders cross any price.
func crosses(taker *types.Order, restingPrice decimal.Decimal) bool {
	if taker.Type == types.OrderTypeMarket {
		return true
	}
	if taker.Side == types.SideBuy {
		return restingPrice.LessThanOrEqual(taker.Price)
	}
	return restingPrice.GreaterThanOrEqual(taker.Price)
}

// Match walks opposing price levels in priority order, committing each
// fill through the callback before applying it. Expired makers found
// along the walk are removed lazily through onExpire. The walk stops when
// the taker is filled, the book no longer crosses, or the callback vetoes
// a fill; the veto error is returned so the caller can dispose of the
// remainder.
func (b *Book) Match(taker *types.Order, now time.Time, onFill FillFn, onExpire ExpireFn) error {
	opposite := b.opposing(taker.Side)

	for taker.RemainingQty.IsPositive() && len(opposite.levels) > 0 {
		level := opposite.levels[0]
		if !crosses(taker, level.price) {
			break
		}

		for taker.RemainingQty.IsPositive() && len(level.orders) > 0 {
			maker := level.orders[0]

			if maker.IsExpired(now) {
				level.removeAt(0)
				maker.Status = types.OrderStatusExpired
				onExpire(maker)
				continue
			}

			qty := decimal.Min(taker.RemainingQty, maker.RemainingQty)
			if err := onFill(maker, taker, level.price, qty); err != nil {
				if level.empty() {
					opposite.dropLevelAt(0)
				}
				return err
			}

			maker.FilledQty = maker.FilledQty.Add(qty)
			maker.RemainingQty = maker.RemainingQty.Sub(qty)
			taker.FilledQty = taker.FilledQty.Add(qty)
			taker.RemainingQty = taker.RemainingQty.Sub(qty)
			level.reduce(qty)

			if maker.RemainingQty.IsZero() {
				maker.Status = types.OrderStatusFilled
				level.removeAt(0)
			} else {
				maker.Status = types.OrderStatusPartial
			}
		}

		if level.empty() {
			opposite.dropLevelAt(0)
		}
	}

	if taker.RemainingQty.IsZero() {
		taker.Status = types.OrderStatusFilled
	}
	return nil
}

// BestBid returns the highest resting buy price.
func (b *Book) BestBid() (decimal.Decimal, bool) { return b.bids.best() }

// BestAsk returns the lowest resting sell price.
func (b *Book) BestAsk() (decimal.Decimal, bool) { return b.asks.best() }

// BestOpposing returns the best price a taker on the given side would
// cross against.
func (b *Book) BestOpposing(side types.Side) (decimal.Decimal, bool) {
	return b.opposing(side).best()
}

// RestingOrders returns every order currently resting on either side, in
// no particular order. Used by resolution and force-close.
func (b *Book) RestingOrders() []*types.Order {
	var out []*types.Order
	for _, level := range b.bids.levels {
		out = append(out, level.orders...)
	}
	for _, level := range b.asks.levels {
		out = append(out, level.orders...)
	}
	return out
}

// ExpiredOrders removes and returns all resting orders expired at t.
func (b *Book) ExpiredOrders(t time.Time) []*types.Order {
	var expired []*types.Order
	for _, side := range []*bookSide{b.bids, b.asks} {
		for li := 0; li < len(side.levels); {
			level := side.levels[li]
			for oi := 0; oi < len(level.orders); {
				if level.orders[oi].IsExpired(t) {
					o := level.removeAt(oi)
					o.Status = types.OrderStatusExpired
					expired = append(expired, o)
					continue
				}
				oi++
			}
			if level.empty() {
				side.dropLevelAt(li)
				continue
			}
			li++
		}
	}
	return expired
}

// Snapshot projects aggregated levels up to depth per side (0 = all).
func (b *Book) Snapshot(depth int) *types.BookSnapshot {
	snap := &types.BookSnapshot{
		MarketID:  b.MarketID,
		Outcome:   b.Outcome,
		Bids:      levelSnapshots(b.bids.levels, depth),
		Asks:      levelSnapshots(b.asks.levels, depth),
		Timestamp: time.Now(),
	}
	if bid, ok := b.BestBid(); ok {
		snap.BestBid = &bid
	}
	if ask, ok := b.BestAsk(); ok {
		snap.BestAsk = &ask
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := snap.BestAsk.Sub(*snap.BestBid)
		snap.Spread = &spread
	}
	return snap
}

func levelSnapshots(levels []*priceLevel, depth int) []types.PriceLevelSnapshot {
	out := make([]types.PriceLevelSnapshot, 0, len(levels))
	for i, level := range levels {
		if depth > 0 && i >= depth {
			break
		}
		out = append(out, types.PriceLevelSnapshot{
			Price:    level.price,
			Quantity: level.volume,
			Orders:   len(level.orders),
		})
	}
	return out
}
