package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/LocalSpotHQ/LocalSpot/app/models"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/database"
)

const defaultListingPageSize = 20
const maxListingPageSize = 100

// HandleListListings returns active directory listings as JSON, optionally
// filtered by category.
func HandleListListings(c *fiber.Ctx) error {
	db := database.GetDB()

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultListingPageSize)))
	if limit < 1 || limit > maxListingPageSize {
		limit = defaultListingPageSize
	}

	query := db.Model(&models.BusinessListing{}).
		Where("status = ?", models.LISTING_ACTIVE).
		Order("featured DESC, created_at DESC")
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "listing_query_failed"})
	}

	var listings []models.BusinessListing
	if err := query.Offset((page - 1) * limit).Limit(limit).Find(&listings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "listing_query_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"listings": listings,
		"page":     page,
		"limit":    limit,
		"total":    total,
	})
}

// HandleGetListing returns a single active listing by slug.
func HandleGetListing(c *fiber.Ctx) error {
	db := database.GetDB()

	var listing models.BusinessListing
	err := db.Where("slug = ? AND status = ?", c.Params("slug"), models.LISTING_ACTIVE).
		First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "listing_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "listing_query_failed"})
	}

	// View counts are best effort.
	_ = db.Model(&models.BusinessListing{}).Where("id = ?", listing.ID).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error

	return c.Status(fiber.StatusOK).JSON(listing)
}
