package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"opencwmp/internal/store"
)

// Handlers exposes the admin service as REST endpoints
type Handlers struct {
	service *Service
}

// NewHandlers creates the REST handler set over an admin service
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Register attaches the admin routes to a router group
func (h *Handlers) Register(rg *gin.RouterGroup) {
	devices := rg.Group("/devices")
	{
		devices.GET("", h.listDevices)
		devices.GET("/:serial", h.getDevice)
		devices.GET("/:serial/tasks", h.listTasks)
		devices.POST("/:serial/tasks", h.enqueueTask)
	}

	tasks := rg.Group("/tasks")
	{
		tasks.GET("/:id", h.getTask)
		tasks.DELETE("/:id", h.cancelTask)
	}
}

// listDevices handles GET /devices?search=&online=
func (h *Handlers) listDevices(c *gin.Context) {
	var online *bool
	if raw := c.Query("online"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid online filter",
				"details": err.Error(),
			})
			return
		}
		online = &v
	}

	devices, err := h.service.ListDevices(c.Query("search"), online)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list devices",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// getDevice handles GET /devices/:serial
func (h *Handlers) getDevice(c *gin.Context) {
	device, err := h.service.GetDevice(c.Param("serial"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Device not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to get device",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, device)
}

// enqueueTaskRequest is the body of POST /devices/:serial/tasks
type enqueueTaskRequest struct {
	Kind    string            `json:"kind" binding:"required"`
	Payload map[string]string `json:"payload"`
}

// enqueueTask handles POST /devices/:serial/tasks
func (h *Handlers) enqueueTask(c *gin.Context) {
	var req enqueueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	task, err := h.service.EnqueueTask(c.Param("serial"), store.TaskKind(req.Kind), req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Device not found",
			})
		case errors.Is(err, store.ErrBadKind):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Unknown task kind",
				"details": err.Error(),
			})
		case errors.Is(err, store.ErrEmptyPayload):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "SetParameterValues requires a non-empty payload",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to enqueue task",
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, task)
}

// getTask handles GET /tasks/:id
func (h *Handlers) getTask(c *gin.Context) {
	task, err := h.service.GetTask(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to get task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, task)
}

// listTasks handles GET /devices/:serial/tasks
func (h *Handlers) listTasks(c *gin.Context) {
	tasks, err := h.service.ListTasks(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list tasks",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// cancelTask handles DELETE /tasks/:id
func (h *Handlers) cancelTask(c *gin.Context) {
	err := h.service.CancelTask(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
			})
		case errors.Is(err, store.ErrNotPending):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Only pending tasks can be cancelled",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to cancel task",
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Task cancelled",
	})
}
