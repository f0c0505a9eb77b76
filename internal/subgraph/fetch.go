package subgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/derivex/rewards-engine/internal/markets"
	"github.com/derivex/rewards-engine/internal/model"
)

// snapshotPeriod filters greeks snapshots to the daily sampling cadence;
// the indexer also stores hourly rows we do not need.
const snapshotPeriod = 60 * 60 * 24

const tradesQuery = `{
  trades(first: %d, orderBy: blockNumber, orderDirection: asc, where: { blockNumber_gte: %d }) {
    id
    trader
    market { name }
    position { positionId isLong option { isCall } }
    strike { strikeId }
    spotPriceFee
    vegaUtilFee
    optionPriceFee
    varianceFee
    timestamp
    blockNumber
    isOpen
    size
  }
}`

const transfersQuery = `{
  optionTransfers(first: %d, orderBy: timestamp, orderDirection: asc, where: { timestamp_gte: %d }) {
    id
    oldOwner
    newOwner
    timestamp
    position { isLong strike { strikeId } option { isCall } }
  }
}`

const deltaSnapshotsQuery = `{
  optionPriceAndGreeksSnapshots(first: %d, orderBy: blockNumber, orderDirection: asc, where: { blockNumber_gte: %d, period_gte: %d }) {
    id
    delta
    blockNumber
    timestamp
  }
}`

const strikesQuery = `{
  strikes(first: %d, orderBy: strikeId, orderDirection: asc, where: { strikeId_gte: %d }) {
    id
    strikePrice
    board { expiryTimestamp }
  }
}`

type tradeRow struct {
	ID     string `json:"id"`
	Trader string `json:"trader"`
	Market struct {
		Name string `json:"name"`
	} `json:"market"`
	Position struct {
		PositionID flexInt `json:"positionId"`
		IsLong     bool    `json:"isLong"`
		Option     struct {
			IsCall bool `json:"isCall"`
		} `json:"option"`
	} `json:"position"`
	Strike struct {
		StrikeID flexInt `json:"strikeId"`
	} `json:"strike"`
	SpotPriceFee   string  `json:"spotPriceFee"`
	VegaUtilFee    string  `json:"vegaUtilFee"`
	OptionPriceFee string  `json:"optionPriceFee"`
	VarianceFee    string  `json:"varianceFee"`
	Timestamp      flexInt `json:"timestamp"`
	BlockNumber    flexInt `json:"blockNumber"`
	IsOpen         bool    `json:"isOpen"`
	Size           string  `json:"size"`
}

func (r tradeRow) toTrade() (model.Trade, error) {
	size, err := parseWad(r.Size)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %s size: %w", r.ID, err)
	}
	// The indexer reports size unsigned; size-decreasing trades are
	// flagged by isOpen. The engine wants signed sizes.
	if !r.IsOpen {
		size = size.Neg()
	}
	spot, err := parseWad(r.SpotPriceFee)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %s spotPriceFee: %w", r.ID, err)
	}
	vega, err := parseWad(r.VegaUtilFee)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %s vegaUtilFee: %w", r.ID, err)
	}
	option, err := parseWad(r.OptionPriceFee)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %s optionPriceFee: %w", r.ID, err)
	}
	variance, err := parseWad(r.VarianceFee)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade %s varianceFee: %w", r.ID, err)
	}
	return model.Trade{
		Trader:         strings.ToLower(r.Trader),
		Market:         r.Market.Name,
		StrikeID:       int64(r.Strike.StrikeID),
		PositionID:     int64(r.Position.PositionID),
		Timestamp:      int64(r.Timestamp),
		IsLong:         r.Position.IsLong,
		IsCall:         r.Position.Option.IsCall,
		Size:           size,
		SpotPriceFee:   spot,
		VegaUtilFee:    vega,
		OptionPriceFee: option,
		VarianceFee:    variance,
	}, nil
}

// Trades fetches the full trade history grouped by market name. Pages by
// block number; the gte cursor re-reads the boundary block, so rows are
// deduplicated by ID and the loop stops once a page adds nothing new.
func (c *Client) Trades(ctx context.Context) (map[string][]model.Trade, error) {
	byMarket := make(map[string][]model.Trade)
	seen := make(map[string]struct{})
	var latestBlock int64

	for {
		var page struct {
			Trades []tradeRow `json:"trades"`
		}
		if err := c.query(ctx, fmt.Sprintf(tradesQuery, c.pageSize, latestBlock), &page); err != nil {
			return nil, err
		}

		addedNew := false
		for _, row := range page.Trades {
			if int64(row.BlockNumber) > latestBlock {
				latestBlock = int64(row.BlockNumber)
			}
			if _, ok := seen[row.ID]; ok {
				continue
			}
			seen[row.ID] = struct{}{}
			addedNew = true

			trade, err := row.toTrade()
			if err != nil {
				return nil, err
			}
			byMarket[trade.Market] = append(byMarket[trade.Market], trade)
		}
		if !addedNew {
			return byMarket, nil
		}
	}
}

type transferRow struct {
	ID        string  `json:"id"`
	OldOwner  string  `json:"oldOwner"`
	NewOwner  string  `json:"newOwner"`
	Timestamp flexInt `json:"timestamp"`
	Position  struct {
		IsLong bool `json:"isLong"`
		Strike struct {
			StrikeID flexInt `json:"strikeId"`
		} `json:"strike"`
		Option struct {
			IsCall bool `json:"isCall"`
		} `json:"option"`
	} `json:"position"`
}

// Transfers fetches all position ownership transfers grouped by market
// name. The composite ID carries the market contract address and the
// position ID; the registry turns the address into a market name.
func (c *Client) Transfers(ctx context.Context) (map[string][]model.Transfer, error) {
	byMarket := make(map[string][]model.Transfer)
	seen := make(map[string]struct{})
	var latestTS int64
	lastSeen := ""

	for {
		var page struct {
			OptionTransfers []transferRow `json:"optionTransfers"`
		}
		if err := c.query(ctx, fmt.Sprintf(transfersQuery, c.pageSize, latestTS), &page); err != nil {
			return nil, err
		}
		if len(page.OptionTransfers) == 0 {
			return byMarket, nil
		}

		for _, row := range page.OptionTransfers {
			latestTS = int64(row.Timestamp)
			if _, ok := seen[row.ID]; ok {
				continue
			}
			seen[row.ID] = struct{}{}

			eid, err := markets.ParseEntityID(row.ID)
			if err != nil {
				return nil, fmt.Errorf("transfer %s: %w", row.ID, err)
			}
			market, err := c.registry.Resolve(eid.MarketAddr)
			if err != nil {
				return nil, fmt.Errorf("transfer %s: %w", row.ID, err)
			}

			byMarket[market] = append(byMarket[market], model.Transfer{
				Market:     market,
				StrikeID:   int64(row.Position.Strike.StrikeID),
				PositionID: eid.Num,
				OldOwner:   strings.ToLower(row.OldOwner),
				NewOwner:   strings.ToLower(row.NewOwner),
				Timestamp:  int64(row.Timestamp),
				IsLong:     row.Position.IsLong,
				IsCall:     row.Position.Option.IsCall,
			})
		}

		next := page.OptionTransfers[len(page.OptionTransfers)-1].ID
		if next == lastSeen {
			return byMarket, nil
		}
		lastSeen = next
	}
}

type snapshotRow struct {
	ID          string  `json:"id"`
	Delta       string  `json:"delta"`
	BlockNumber flexInt `json:"blockNumber"`
	Timestamp   flexInt `json:"timestamp"`
}

// DeltaSnapshots fetches daily call-delta samples keyed by market name
// and strike ID. Only the call leg is kept: the put delta is the call
// delta minus one, so storing both is redundant.
func (c *Client) DeltaSnapshots(ctx context.Context) (map[string]map[int64][]model.DeltaSnapshot, error) {
	out := make(map[string]map[int64][]model.DeltaSnapshot)
	seen := make(map[string]struct{})
	var latestBlock int64
	lastSeen := ""

	for {
		var page struct {
			Snapshots []snapshotRow `json:"optionPriceAndGreeksSnapshots"`
		}
		q := fmt.Sprintf(deltaSnapshotsQuery, c.pageSize, latestBlock, snapshotPeriod)
		if err := c.query(ctx, q, &page); err != nil {
			return nil, err
		}
		if len(page.Snapshots) == 0 {
			return out, nil
		}

		for _, row := range page.Snapshots {
			latestBlock = int64(row.BlockNumber)
			if _, ok := seen[row.ID]; ok {
				continue
			}
			seen[row.ID] = struct{}{}

			eid, err := markets.ParseEntityID(row.ID)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", row.ID, err)
			}
			if eid.Leg != "call" {
				continue
			}
			market, err := c.registry.Resolve(eid.MarketAddr)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", row.ID, err)
			}
			delta, err := parseWad(row.Delta)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s delta: %w", row.ID, err)
			}

			if out[market] == nil {
				out[market] = make(map[int64][]model.DeltaSnapshot)
			}
			out[market][eid.Num] = append(out[market][eid.Num], model.DeltaSnapshot{
				Timestamp: int64(row.Timestamp),
				Delta:     delta.InexactFloat64(),
			})
		}

		next := page.Snapshots[len(page.Snapshots)-1].ID
		if next == lastSeen {
			return out, nil
		}
		lastSeen = next
	}
}

type strikeRow struct {
	ID          string `json:"id"`
	StrikePrice string `json:"strikePrice"`
	Board       struct {
		ExpiryTimestamp flexInt `json:"expiryTimestamp"`
	} `json:"board"`
}

// StrikeDetails fetches static strike data keyed by market name and
// strike ID.
func (c *Client) StrikeDetails(ctx context.Context) (map[string]map[int64]model.StrikeDetails, error) {
	out := make(map[string]map[int64]model.StrikeDetails)
	seen := make(map[string]struct{})
	var latestStrikeID int64
	lastSeen := ""

	for {
		var page struct {
			Strikes []strikeRow `json:"strikes"`
		}
		if err := c.query(ctx, fmt.Sprintf(strikesQuery, c.pageSize, latestStrikeID), &page); err != nil {
			return nil, err
		}
		if len(page.Strikes) == 0 {
			return out, nil
		}

		for _, row := range page.Strikes {
			if _, ok := seen[row.ID]; ok {
				continue
			}
			seen[row.ID] = struct{}{}

			eid, err := markets.ParseEntityID(row.ID)
			if err != nil {
				return nil, fmt.Errorf("strike %s: %w", row.ID, err)
			}
			latestStrikeID = eid.Num
			market, err := c.registry.Resolve(eid.MarketAddr)
			if err != nil {
				return nil, fmt.Errorf("strike %s: %w", row.ID, err)
			}
			price, err := parseWad(row.StrikePrice)
			if err != nil {
				return nil, fmt.Errorf("strike %s price: %w", row.ID, err)
			}

			if out[market] == nil {
				out[market] = make(map[int64]model.StrikeDetails)
			}
			out[market][eid.Num] = model.StrikeDetails{
				StrikeID:        eid.Num,
				ExpiryTimestamp: int64(row.Board.ExpiryTimestamp),
				StrikePrice:     price,
			}
		}

		next := page.Strikes[len(page.Strikes)-1].ID
		if next == lastSeen {
			return out, nil
		}
		lastSeen = next
	}
}
