package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"breadth-backend/internal/timeutil"
	"breadth-backend/services"

	"github.com/labstack/echo/v4"
)

// IndexController serves the market-breadth index query surface
type IndexController struct {
	indexService        *services.IndexService
	distributionService *services.DistributionService
	uptrendService      *services.UptrendService
	backfillService     *services.BackfillService
}

// NewIndexController creates a new index controller
func NewIndexController(indexService *services.IndexService, distributionService *services.DistributionService, uptrendService *services.UptrendService, backfillService *services.BackfillService) *IndexController {
	return &IndexController{
		indexService:        indexService,
		distributionService: distributionService,
		uptrendService:      uptrendService,
		backfillService:     backfillService,
	}
}

// GetCurrent returns the latest index point
func (ic *IndexController) GetCurrent(c echo.Context) error {
	point, err := ic.indexService.Current(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	if point == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "message": "no index data collected yet",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "data": point,
	})
}

// GetHistory returns index points for the trailing hours window
func (ic *IndexController) GetHistory(c echo.Context) error {
	hours := 168
	if raw := c.QueryParam("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false, "message": "hours must be a positive integer",
			})
		}
		hours = parsed
	}

	points, err := ic.indexService.History(c.Request().Context(), hours)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "data": points, "count": len(points),
	})
}

// GetStats returns the multi-window delta summary
func (ic *IndexController) GetStats(c echo.Context) error {
	stats, err := ic.indexService.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	if stats == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "message": "no index data collected yet",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "data": stats,
	})
}

// GetDistribution serves the rise-distribution histogram
func (ic *IndexController) GetDistribution(c echo.Context) error {
	start, end, errMsg := parseWindow(c)
	if errMsg != "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "message": errMsg,
		})
	}

	result, err := ic.distributionService.Query(c.Request().Context(), start, end)
	if err != nil {
		return queryError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "data": result,
	})
}

// GetUptrendDistribution serves the uptrend-wave histogram
func (ic *IndexController) GetUptrendDistribution(c echo.Context) error {
	start, end, errMsg := parseWindow(c)
	if errMsg != "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "message": errMsg,
		})
	}

	params := services.UptrendParams{
		KeepRatio:        0.75,
		NoNewHighCandles: 6,
		MinUptrendPct:    4,
	}
	if raw := c.QueryParam("keepRatio"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false, "message": "keepRatio must be a number in (0, 1]",
			})
		}
		params.KeepRatio = v
	}
	if raw := c.QueryParam("noNewHighCandles"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false, "message": "noNewHighCandles must be a positive integer",
			})
		}
		params.NoNewHighCandles = v
	}
	if raw := c.QueryParam("minUptrend"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false, "message": "minUptrend must be a number of percent",
			})
		}
		params.MinUptrendPct = v
	}
	if err := params.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}

	result, err := ic.uptrendService.Query(c.Request().Context(), start, end, params)
	if err != nil {
		return queryError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "data": result,
	})
}

// DeleteData removes candles and index rows over an absolute range
func (ic *IndexController) DeleteData(c echo.Context) error {
	spec := timeutil.TimeSpec{
		Start:    c.QueryParam("start"),
		End:      c.QueryParam("end"),
		Timezone: c.QueryParam("timezone"),
	}
	if !spec.HasRange() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "message": "start and end are required, format " + timeutil.RangeLayout,
		})
	}
	start, end, err := spec.Resolve(time.Now())
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}

	candlesDeleted, indexRowsDeleted, err := ic.indexService.DeleteRange(c.Request().Context(), start, end)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":            true,
		"candles_deleted":    candlesDeleted,
		"index_rows_deleted": indexRowsDeleted,
	})
}

// PurgeSymbol removes one symbol's candles and revokes its base price
func (ic *IndexController) PurgeSymbol(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "message": "symbol is required",
		})
	}

	deleted, err := ic.indexService.PurgeSymbol(c.Request().Context(), symbol)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "symbol": symbol, "candles_deleted": deleted,
	})
}

// Repair triggers gap repair over days or an absolute range
func (ic *IndexController) Repair(c echo.Context) error {
	var start, end time.Time

	if raw := c.QueryParam("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false, "message": "days must be a positive integer",
			})
		}
		end = timeutil.LatestClosedBucket(time.Now())
		start = end.Add(-time.Duration(days) * 24 * time.Hour)
	} else {
		spec := timeutil.TimeSpec{
			Start:    c.QueryParam("start"),
			End:      c.QueryParam("end"),
			Timezone: c.QueryParam("timezone"),
		}
		if !spec.HasRange() {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false, "message": "either days or start/end is required, format " + timeutil.RangeLayout,
			})
		}
		var err error
		start, end, err = spec.Resolve(time.Now())
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false, "message": err.Error(),
			})
		}
	}

	summary, err := ic.backfillService.RepairGaps(c.Request().Context(), start, end)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "data": summary,
	})
}

// GetBasePrices lists the registry's durable state
func (ic *IndexController) GetBasePrices(c echo.Context) error {
	prices, err := ic.indexService.BasePrices(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "data": prices, "count": len(prices),
	})
}

// parseWindow reads the hours / start+end+timezone query parameters and
// resolves them to an aligned UTC window. Returns a non-empty message on
// validation failure.
func parseWindow(c echo.Context) (time.Time, time.Time, string) {
	spec := timeutil.TimeSpec{
		Start:    c.QueryParam("start"),
		End:      c.QueryParam("end"),
		Timezone: c.QueryParam("timezone"),
	}
	if !spec.HasRange() {
		raw := c.QueryParam("hours")
		if raw == "" {
			return time.Time{}, time.Time{}, "either hours or start/end is required, format " + timeutil.RangeLayout
		}
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			return time.Time{}, time.Time{}, "hours must be a positive number"
		}
		spec.Hours = hours
	}

	start, end, err := spec.Resolve(time.Now())
	if err != nil {
		return time.Time{}, time.Time{}, err.Error()
	}
	return start, end, ""
}

// queryError maps a service failure onto the wire: missing data is a
// success=false payload with a 200, every other failure surfaces as a 500.
// Parameter problems never reach it; the handlers answer those with a 400
// before calling the service.
func queryError(c echo.Context, err error) error {
	if errors.Is(err, services.ErrInsufficientData) {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "message": err.Error(),
		})
	}
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"success": false, "message": err.Error(),
	})
}
