package app

import "orderbot/internal/order"

func orderForTest() order.Job {
	return order.NewOrderCreated(1, order.Snapshot{Username: "alice"}, "")
}
