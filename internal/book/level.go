package book

import (
	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/types"
)

// priceLevel holds the FIFO queue of resting orders at one price. The
// level's volume is always the sum of its orders' remaining quantities.
type priceLevel struct {
	price  decimal.Decimal
	orders []*types.Order
	volume decimal.Decimal
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price, volume: decimal.Zero}
}

// addOrder appends the order at the back of the time-priority queue.
func (l *priceLevel) addOrder(o *types.Order) {
	l.orders = append(l.orders, o)
	l.volume = l.volume.Add(o.RemainingQty)
}

// removeAt drops the order at index i, preserving FIFO order of the rest.
func (l *priceLevel) removeAt(i int) *types.Order {
	o := l.orders[i]
	l.orders = append(l.orders[:i], l.orders[i+1:]...)
	l.volume = l.volume.Sub(o.RemainingQty)
	return o
}

// indexOf returns the queue position of the order, or -1.
func (l *priceLevel) indexOf(orderID string) int {
	for i, o := range l.orders {
		if o.OrderID == orderID {
			return i
		}
	}
	return -1
}

// reduce subtracts a filled quantity from the level's aggregate volume.
func (l *priceLevel) reduce(qty decimal.Decimal) {
	l.volume = l.volume.Sub(qty)
}

func (l *priceLevel) empty() bool {
	return len(l.orders) == 0
}
