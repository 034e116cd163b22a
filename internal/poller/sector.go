package poller

import (
	"context"
	"encoding/json"
	"sort"

	"qtrade/internal/domain"
	"qtrade/internal/store"
)

// sectorOf maps pool stocks to their sector. Codes outside the table fall
// into 其他.
var sectorOf = map[string]string{
	"600519": "白酒", "000858": "白酒", "000568": "白酒",
	"000001": "银行", "600036": "银行",
	"601318": "保险",
	"600030": "券商", "300059": "券商",
	"300750": "新能源", "002594": "新能源", "601012": "新能源",
	"688981": "半导体", "002371": "半导体", "002049": "半导体",
	"002415": "电子", "002475": "电子", "000725": "电子",
	"688111": "软件",
	"603259": "医药", "600276": "医药",
	"600900": "公用事业",
	"601899": "有色", "601225": "煤炭",
	"002714": "农业",
	"601888": "消费", "000333": "消费",
	"600309": "化工",
	"601669": "基建", "600585": "基建",
	"002352": "物流",
}

// sectorFlow is one sector's aggregate over the pool: average change, total
// turnover, turnover signed by each stock's direction as a net-flow proxy,
// and the sector's top gainer.
type sectorFlow struct {
	Sector        string  `json:"sector"`
	ChangePercent float64 `json:"changePercent"`
	Amount        float64 `json:"amount"`
	NetAmount     float64 `json:"netAmount"`
	Stocks        int     `json:"stocks"`
	Leader        string  `json:"leader"`
}

// aggregateSectors folds pool quotes into per-sector flows, sorted by
// sector name.
func aggregateSectors(quotes []domain.Quote) []sectorFlow {
	bySector := make(map[string]*sectorFlow)
	leaderChange := make(map[string]float64)
	for _, q := range quotes {
		sector := sectorOf[q.Code]
		if sector == "" {
			sector = "其他"
		}
		f := bySector[sector]
		if f == nil {
			f = &sectorFlow{Sector: sector}
			bySector[sector] = f
		}
		f.ChangePercent += q.ChangePercent
		f.Amount += q.Amount
		if q.ChangePercent >= 0 {
			f.NetAmount += q.Amount
		} else {
			f.NetAmount -= q.Amount
		}
		f.Stocks++
		if f.Leader == "" || q.ChangePercent > leaderChange[sector] {
			f.Leader = q.Name
			leaderChange[sector] = q.ChangePercent
		}
	}

	out := make([]sectorFlow, 0, len(bySector))
	for _, f := range bySector {
		f.ChangePercent /= float64(f.Stocks)
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sector < out[j].Sector })
	return out
}

func (p *Poller) collectSectors(ctx context.Context) (int, error) {
	quotes, err := p.quotes.Pool(ctx, nil)
	if err != nil {
		return 0, err
	}
	ts := p.now()
	flows := aggregateSectors(quotes)
	snaps := make([]store.Snapshot, 0, len(flows))
	for _, f := range flows {
		raw, err := json.Marshal(f)
		if err != nil {
			continue
		}
		impact := "neutral"
		if f.ChangePercent > 0 {
			impact = "positive"
		} else if f.ChangePercent < 0 {
			impact = "negative"
		}
		snaps = append(snaps, store.Snapshot{
			DataType:     "sector",
			DataID:       snapshotID("sector", f.Sector, ts),
			SnapshotTime: ts.Format("2006-01-02 15:04:05"),
			StockName:    f.Sector,
			Summary:      f.Sector,
			Impact:       impact,
			DataJSON:     string(raw),
		})
	}
	if err := p.store.AppendSnapshots(ctx, snaps); err != nil {
		return 0, err
	}
	return len(snaps), nil
}
