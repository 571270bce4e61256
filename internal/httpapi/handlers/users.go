package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/knowledge-chat/internal/auth"
	"github.com/suPer8Hu/knowledge-chat/internal/common"
	"github.com/suPer8Hu/knowledge-chat/internal/models"
)

type createUserReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if req.Role != models.RoleAdmin && req.Role != models.RoleUser {
		common.Fail(c, http.StatusBadRequest, 10030, "invalid role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50040, "failed to hash password")
		return
	}

	user := models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		Status:       1,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10031, "failed to create user (username may already exist)")
		return
	}
	common.OK(c, user)
}

func (h *Handler) ListUsers(c *gin.Context) {
	var users []models.User
	if err := h.DB.Order("id ASC").Find(&users).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 50041, "failed to list users")
		return
	}
	common.OK(c, gin.H{"users": users})
}

func (h *Handler) GetUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10032, "invalid user id")
		return
	}

	var user models.User
	if err := h.DB.First(&user, id).Error; err != nil {
		common.Fail(c, http.StatusNotFound, 40410, "user not found")
		return
	}
	common.OK(c, user)
}

type updateUserReq struct {
	Password *string `json:"password"`
	Role     *string `json:"role"`
	Status   *int    `json:"status"`
}

func (h *Handler) UpdateUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10032, "invalid user id")
		return
	}

	var req updateUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	updates := map[string]any{}
	if req.Password != nil && *req.Password != "" {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 50040, "failed to hash password")
			return
		}
		updates["password_hash"] = hash
	}
	if req.Role != nil {
		if *req.Role != models.RoleAdmin && *req.Role != models.RoleUser {
			common.Fail(c, http.StatusBadRequest, 10030, "invalid role")
			return
		}
		updates["role"] = *req.Role
	}
	if req.Status != nil {
		if *req.Status != 0 && *req.Status != 1 {
			common.Fail(c, http.StatusBadRequest, 10033, "invalid status")
			return
		}
		updates["status"] = *req.Status
	}
	if len(updates) == 0 {
		common.Fail(c, http.StatusBadRequest, 10034, "nothing to update")
		return
	}

	res := h.DB.Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 50042, "failed to update user")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40410, "user not found")
		return
	}

	var user models.User
	if err := h.DB.First(&user, id).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 50042, "failed to update user")
		return
	}
	common.OK(c, user)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10032, "invalid user id")
		return
	}

	if uid, ok := userIDFromContext(c); ok && uid == id {
		common.Fail(c, http.StatusBadRequest, 10035, "cannot delete your own account")
		return
	}

	res := h.DB.Delete(&models.User{}, id)
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusInternalServerError, 50043, "failed to delete user")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40410, "user not found")
		return
	}
	common.OK(c, gin.H{"deleted": id})
}
