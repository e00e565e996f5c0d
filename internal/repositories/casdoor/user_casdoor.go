package casdoor

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
)

// CasdoorConfig holds the configuration for Casdoor connection
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

// UserCasdoor reads user records from Casdoor, which owns identity for
// the whole platform. The grade service only ever looks users up; it
// caches them in Redis to keep auth checks off the identity provider.
type UserCasdoor struct {
	client *casdoorsdk.Client
	redis  *redis.Client
	config CasdoorConfig

	cachePrefix string
	cacheTTL    time.Duration
}

func NewUserCasdoor(config CasdoorConfig, redisClient *redis.Client) repositories.UserRepository {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)

	return &UserCasdoor{
		client:      client,
		redis:       redisClient,
		config:      config,
		cachePrefix: "user:",
		cacheTTL:    15 * time.Minute,
	}
}

// ===== CACHE =====

func (u *UserCasdoor) cacheKey(key string) string {
	return u.cachePrefix + key
}

func (u *UserCasdoor) getCachedUser(ctx context.Context, key string) *models.User {
	if u.redis == nil {
		return nil
	}

	// Misses and cache trouble both fall through to Casdoor
	data, err := u.redis.Get(ctx, u.cacheKey(key)).Result()
	if err != nil {
		return nil
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil
	}

	return &user
}

// cacheUser stores a user under both its id and email keys so either
// lookup path hits
func (u *UserCasdoor) cacheUser(ctx context.Context, user *models.User) {
	if u.redis == nil || user == nil {
		return
	}

	data, err := json.Marshal(user)
	if err != nil {
		return
	}

	u.redis.Set(ctx, u.cacheKey("id:"+user.ID), data, u.cacheTTL)
	if user.Email != "" {
		u.redis.Set(ctx, u.cacheKey("email:"+user.Email), data, u.cacheTTL)
	}
}

// ===== CONVERSION =====

func (u *UserCasdoor) toModel(casdoorUser *casdoorsdk.User) *models.User {
	if casdoorUser == nil {
		return nil
	}

	var createdAt, updatedAt time.Time
	if casdoorUser.CreatedTime != "" {
		createdAt, _ = time.Parse(time.RFC3339, casdoorUser.CreatedTime)
	}
	if casdoorUser.UpdatedTime != "" {
		updatedAt, _ = time.Parse(time.RFC3339, casdoorUser.UpdatedTime)
	}

	return &models.User{
		ID:            casdoorUser.Id,
		FullName:      casdoorUser.DisplayName,
		Email:         casdoorUser.Email,
		Role:          u.resolveRole(casdoorUser),
		AvatarURL:     &casdoorUser.Avatar,
		EmailVerified: casdoorUser.EmailVerified,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

// resolveRole picks the primary role from the Casdoor role list; admin
// wins over everything, unknown roles fall back to student
func (u *UserCasdoor) resolveRole(casdoorUser *casdoorsdk.User) models.UserRole {
	var roles []models.UserRole
	seen := make(map[models.UserRole]bool)
	for _, casdoorRole := range casdoorUser.Roles {
		role := mapCasdoorRole(casdoorRole.Name)
		if !seen[role] {
			roles = append(roles, role)
			seen[role] = true
		}
	}

	if slices.Contains(roles, models.RoleAdmin) || casdoorUser.IsAdmin {
		return models.RoleAdmin
	}
	if len(roles) == 0 {
		return models.RoleStudent
	}
	return roles[0]
}

func mapCasdoorRole(name string) models.UserRole {
	switch strings.ToLower(name) {
	case "admin", "administrator":
		return models.RoleAdmin
	case "teacher", "instructor":
		return models.RoleTeacher
	default:
		return models.RoleStudent
	}
}

// ===== LOOKUPS =====

func (u *UserCasdoor) GetByID(ctx context.Context, id string) (*models.User, error) {
	if user := u.getCachedUser(ctx, "id:"+id); user != nil {
		return user, nil
	}

	casdoorUser, err := u.client.GetUserByUserId(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Casdoor: %w", err)
	}
	if casdoorUser == nil {
		return nil, fmt.Errorf("user not found with ID %s", id)
	}

	user := u.toModel(casdoorUser)
	u.cacheUser(ctx, user)

	return user, nil
}

func (u *UserCasdoor) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if user := u.getCachedUser(ctx, "email:"+email); user != nil {
		return user, nil
	}

	casdoorUser, err := u.client.GetUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email from Casdoor: %w", err)
	}
	if casdoorUser == nil {
		return nil, fmt.Errorf("user not found with email %s", email)
	}

	user := u.toModel(casdoorUser)
	u.cacheUser(ctx, user)

	return user, nil
}

// GetByIDs resolves a set of ids, serving what it can from cache. A
// user that cannot be fetched is dropped from the result rather than
// failing the whole lookup; callers use this for display attribution.
func (u *UserCasdoor) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	users := make([]*models.User, 0, len(ids))

	for _, id := range ids {
		if user := u.getCachedUser(ctx, "id:"+id); user != nil {
			users = append(users, user)
			continue
		}
		if user, err := u.GetByID(ctx, id); err == nil {
			users = append(users, user)
		}
	}

	return users, nil
}

// ===== LIST AND SEARCH =====

func (u *UserCasdoor) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	if filters.Limit <= 0 {
		filters.Limit = 10
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	// Casdoor pages are 1-indexed
	page := (filters.Offset / filters.Limit) + 1
	if page < 1 {
		page = 1
	}

	queryMap := make(map[string]string)
	if filters.Query != "" {
		queryMap["field"] = "email"
		queryMap["value"] = filters.Query
	}

	casdoorUsers, count, err := u.client.GetPaginationUsers(page, filters.Limit, queryMap)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get users from Casdoor: %w", err)
	}

	users := make([]*models.User, 0, len(casdoorUsers))
	for _, casdoorUser := range casdoorUsers {
		user := u.toModel(casdoorUser)
		if user != nil {
			users = append(users, user)
			u.cacheUser(ctx, user)
		}
	}

	return users, int64(count), nil
}

func (u *UserCasdoor) Search(ctx context.Context, query string, filters repositories.UserFilters) ([]*models.User, int64, error) {
	filters.Query = query
	return u.List(ctx, filters)
}
