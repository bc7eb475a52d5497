// Package v1 exposes the booking service over HTTP. Authentication happens in
// front of the service; the acting user arrives as a trusted header and is
// resolved against the user store.
package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NexusGPU/reserva/internal/allocator"
	"github.com/NexusGPU/reserva/internal/booking"
	"github.com/NexusGPU/reserva/internal/model"
	"github.com/NexusGPU/reserva/internal/stats"
	"github.com/NexusGPU/reserva/internal/store"
)

// UserHeader carries the authenticated account name, set by the deployment's
// auth proxy.
const UserHeader = "X-Reserva-User"

// API wires the HTTP routes to the services.
type API struct {
	booking *booking.Service
	stats   *stats.Service
	store   *store.Store
	log     *zap.Logger
}

// New creates the API layer.
func New(bookingSvc *booking.Service, statsSvc *stats.Service, st *store.Store, log *zap.Logger) *API {
	return &API{
		booking: bookingSvc,
		stats:   statsSvc,
		store:   st,
		log:     log.Named("api"),
	}
}

// Router builds the gin engine with all routes registered.
func (a *API) Router(rps float64, burst int) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	if rps > 0 {
		router.Use(rateLimit(rps, burst))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1", a.resolveActor)
	{
		api.POST("/slots", a.probeSlots)
		api.GET("/machines", a.listMachines)
		api.GET("/reservations", a.listReservations)
		api.POST("/reservations", a.commitReservation)
		api.DELETE("/reservations/:id", a.cancelReservation)

		admin := api.Group("", a.adminOnly)
		{
			admin.POST("/machines", a.addMachine)
			admin.GET("/machines/deleted", a.listDeletedMachines)
			admin.PUT("/machines/:id/blocked", a.setMachineBlocked)
			admin.PUT("/machines/:id/deleted", a.setMachineDeleted)
			admin.GET("/users", a.listUsers)
			admin.PUT("/users/:id/admin", a.setAdminStatus)
			admin.GET("/stats/week", a.weekReport)
			admin.GET("/stats/use", a.currentUse)
			admin.GET("/audit", a.listAudit)
		}
	}
	return router
}

func (a *API) probeSlots(c *gin.Context) {
	var req allocator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slots, err := a.booking.Probe(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (a *API) listMachines(c *gin.Context) {
	machines, err := a.store.Machines.List(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": machines})
}

func (a *API) listReservations(c *gin.Context) {
	reservations, err := a.booking.ListForUser(c.Request.Context(), actor(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

func (a *API) commitReservation(c *gin.Context) {
	var req booking.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reservation, err := a.booking.Commit(c.Request.Context(), actor(c), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

func (a *API) cancelReservation(c *gin.Context) {
	if err := a.booking.Cancel(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addMachineRequest struct {
	Name     string          `json:"name"`
	CPUCores int             `json:"cpu_cores"`
	RAMGB    int64           `json:"ram_gb"`
	GPURAMGB model.GPUVector `json:"gpu_ram_gb,omitempty"`
}

func (a *API) addMachine(c *gin.Context) {
	var req addMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	machine, err := a.booking.AddMachine(c.Request.Context(), actor(c), req.Name, req.CPUCores, req.RAMGB, req.GPURAMGB)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, machine)
}

func (a *API) listDeletedMachines(c *gin.Context) {
	machines, err := a.booking.DeletedMachines(c.Request.Context(), actor(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": machines})
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (a *API) setMachineBlocked(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	machine, err := a.booking.SetMachineBlocked(c.Request.Context(), actor(c), c.Param("id"), req.Value)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, machine)
}

func (a *API) setMachineDeleted(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	machine, err := a.booking.SetMachineDeleted(c.Request.Context(), actor(c), c.Param("id"), req.Value)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, machine)
}

func (a *API) listUsers(c *gin.Context) {
	users, err := a.store.Users.List(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (a *API) setAdminStatus(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := a.booking.SetAdminStatus(c.Request.Context(), actor(c), c.Param("id"), req.Value)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (a *API) weekReport(c *gin.Context) {
	weeksPrior, err := strconv.Atoi(c.DefaultQuery("weeks_prior", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "weeks_prior must be an integer"})
		return
	}
	report, err := a.stats.WeekReport(c.Request.Context(), weeksPrior)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (a *API) currentUse(c *gin.Context) {
	uses, err := a.stats.CurrentUse(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": uses})
}

func (a *API) listAudit(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	entries, err := a.store.Audit.ListRecent(c.Request.Context(), limit)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (a *API) writeError(c *gin.Context, err error) {
	switch {
	case model.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case model.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case model.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case model.IsAuthorization(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		a.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
