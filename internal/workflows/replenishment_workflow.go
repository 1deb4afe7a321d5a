package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/domain"
)

// ShortageReplenishmentInput is started once per recorded shortage.
type ShortageReplenishmentInput struct {
	ShortageID        string `json:"shortageId"`
	ProductCode       string `json:"productCode"`
	RequestedQuantity int    `json:"requestedQuantity"`
	TotalAvailable    int    `json:"totalAvailable"`
}

// ShortageReplenishmentResult reports what the workflow moved and ordered.
type ShortageReplenishmentResult struct {
	ShortageID  string `json:"shortageId"`
	ProductCode string `json:"productCode"`
	Strategy    string `json:"strategy"` // shelf_replenished, reorder_requested
	// Transferred is keyed by the tier the shelf stock came from.
	Transferred map[string]int `json:"transferred"`
	// Legs lists every committed move in order, compensations included.
	Legs            []allocation.TransferLeg `json:"legs"`
	ReorderQuantity int                      `json:"reorderQuantity"`
	ReorderID       string                   `json:"reorderId,omitempty"`
}

const (
	StrategyShelfReplenished = "shelf_replenished"
	StrategyReorderRequested = "reorder_requested"
)

// Activity names as registered from *StockActivities.
const (
	ActivityGetAvailability = "GetAvailability"
	ActivityTransferStock   = "TransferStock"
	ActivityRequestReorder  = "RequestReorder"
)

// ShortageReplenishmentWorkflow restocks the shelf after a shortage so the
// next sale of the same size can be served directly:
//  1. reads current availability per tier
//  2. moves the shelf deficit from MAIN_STORE, then WEB; WEB stock travels
//     through MAIN_STORE, and a failed second leg is moved back
//  3. requests a supplier reorder for whatever the back tiers could not cover
func ShortageReplenishmentWorkflow(ctx workflow.Context, input ShortageReplenishmentInput) (*ShortageReplenishmentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting shortage replenishment workflow",
		"shortageId", input.ShortageID,
		"productCode", input.ProductCode,
		"requested", input.RequestedQuantity,
	)

	result := &ShortageReplenishmentResult{
		ShortageID:  input.ShortageID,
		ProductCode: input.ProductCode,
		Transferred: map[string]int{},
	}

	readCtx := workflow.WithActivityOptions(ctx, readActivityOptions())
	transferCtx := workflow.WithActivityOptions(ctx, transferActivityOptions())
	reorderCtx := workflow.WithActivityOptions(ctx, reorderActivityOptions())

	var available map[string]int
	if err := workflow.ExecuteActivity(readCtx, ActivityGetAvailability, input.ProductCode).Get(ctx, &available); err != nil {
		return nil, err
	}

	need := input.RequestedQuantity - available[string(domain.LocationShelf)]
	if need < 0 {
		need = 0
	}

	// a concurrent sale may have drained a source since the read; that
	// route fails without retry and the next tier is tried
	for _, source := range []domain.StockLocation{domain.LocationMainStore, domain.LocationWeb} {
		move := min(need, available[string(source)])
		if move <= 0 {
			continue
		}

		if err := runRoute(ctx, transferCtx, input.ProductCode, shelfRoute(source, move), result); err != nil {
			logger.Warn("Replenishment transfer failed, continuing",
				"productCode", input.ProductCode,
				"from", source,
				"quantity", move,
				"error", err,
			)
			continue
		}
		result.Transferred[string(source)] = move
		need -= move
	}

	if need == 0 {
		result.Strategy = StrategyShelfReplenished
		logger.Info("Shelf replenished", "shortageId", input.ShortageID, "transferred", result.Transferred)
		return result, nil
	}

	result.Strategy = StrategyReorderRequested
	result.ReorderQuantity = need

	var reorderID string
	err := workflow.ExecuteActivity(reorderCtx, ActivityRequestReorder, ReorderInput{
		ShortageID:  input.ShortageID,
		ProductCode: input.ProductCode,
		Quantity:    need,
	}).Get(ctx, &reorderID)
	if err != nil {
		return nil, err
	}
	result.ReorderID = reorderID

	logger.Info("Shortage replenishment workflow completed",
		"shortageId", input.ShortageID,
		"strategy", result.Strategy,
		"reorderQuantity", result.ReorderQuantity,
	)
	return result, nil
}

// shelfRoute walks from source down the escalation order to SHELF, one tier
// per leg.
func shelfRoute(source domain.StockLocation, qty int) []allocation.TransferLeg {
	var legs []allocation.TransferLeg
	for i := len(domain.Locations) - 1; i > 0; i-- {
		from, to := domain.Locations[i], domain.Locations[i-1]
		if from == source || len(legs) > 0 {
			legs = append(legs, allocation.TransferLeg{From: from, To: to, Quantity: qty})
		}
	}
	return legs
}

// runRoute commits legs in order. When a leg fails, the legs already
// committed on this route are reversed newest first, so stock is not left
// halfway. A failed reversal is logged and leaves that stock where it is.
func runRoute(ctx, transferCtx workflow.Context, productCode string, legs []allocation.TransferLeg, result *ShortageReplenishmentResult) error {
	transfer := func(leg allocation.TransferLeg) error {
		err := workflow.ExecuteActivity(transferCtx, ActivityTransferStock, TransferInput{
			ProductCode: productCode,
			From:        string(leg.From),
			To:          string(leg.To),
			Quantity:    leg.Quantity,
		}).Get(ctx, nil)
		if err == nil {
			result.Legs = append(result.Legs, leg)
		}
		return err
	}

	for i, leg := range legs {
		err := transfer(leg)
		if err == nil {
			continue
		}
		for k := i - 1; k >= 0; k-- {
			back := allocation.TransferLeg{From: legs[k].To, To: legs[k].From, Quantity: legs[k].Quantity}
			if cerr := transfer(back); cerr != nil {
				workflow.GetLogger(ctx).Error("Failed to move replenishment stock back",
					"productCode", productCode,
					"leg", back.String(),
					"error", cerr,
				)
			}
		}
		return err
	}
	return nil
}
