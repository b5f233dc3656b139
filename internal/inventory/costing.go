package inventory

// UnitCost computes the weighted-average unit cost for an item: total
// landed amount over total received quantity across every approved
// landed-cost line ever recorded, unwindowed. Items without purchase
// history fall back to the opening cost basis; items without either
// cost out at zero, which is valid.
func UnitCost(totals CostTotals, item StockItem) float64 {
	if totals.Qty > 0 {
		return totals.Amount / totals.Qty
	}
	if item.OpeningQty > 0 {
		return item.OpeningAmount / item.OpeningQty
	}
	return 0
}
