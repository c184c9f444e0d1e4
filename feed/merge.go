package feed

// Merge 将新到字段合并进已知状态，返回合并结果。所有 broker 共用同一套
// 按规范字段名固定的分类规则：
//
//   - 价格类（LTP/AvgPrice/OHLC）：零值不覆盖已有非零值
//   - 成交量类（Volume/LastQty/BuyQty/SellQty/OI）：仅在无历史值时接受零
//   - 结构数组（Bids/Asks）：仅非空数组可替换
//   - 其余字段透传
//
// Merge 是确定性且幂等的：Merge(Merge(s,t),t) == Merge(s,t)。
func Merge(existing, incoming Fields) Fields {
	out := existing

	out.LTP = mergePrice(existing.LTP, incoming.LTP)
	out.AvgPrice = mergePrice(existing.AvgPrice, incoming.AvgPrice)
	out.Open = mergePrice(existing.Open, incoming.Open)
	out.High = mergePrice(existing.High, incoming.High)
	out.Low = mergePrice(existing.Low, incoming.Low)
	out.Close = mergePrice(existing.Close, incoming.Close)

	out.Volume = mergeVolume(existing.Volume, incoming.Volume)
	out.LastQty = mergeVolume(existing.LastQty, incoming.LastQty)
	out.BuyQty = mergeVolume(existing.BuyQty, incoming.BuyQty)
	out.SellQty = mergeVolume(existing.SellQty, incoming.SellQty)
	out.OI = mergeVolume(existing.OI, incoming.OI)
	out.LastTradeTime = mergeVolume(existing.LastTradeTime, incoming.LastTradeTime)

	if len(incoming.Bids) > 0 {
		out.Bids = incoming.Bids
	}
	if len(incoming.Asks) > 0 {
		out.Asks = incoming.Asks
	}

	out.HasOHLC = existing.HasOHLC || incoming.HasOHLC
	out.HasVolume = existing.HasVolume || incoming.HasVolume
	out.HasOI = existing.HasOI || incoming.HasOI
	return out
}

func mergePrice(old, new float64) float64 {
	if new != 0 {
		return new
	}
	return old
}

func mergeVolume(old, new int64) int64 {
	if new != 0 {
		return new
	}
	return old
}
