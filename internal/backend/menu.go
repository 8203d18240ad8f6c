package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/chumon-app/kiosk/internal/domain"
)

// Menu item descriptions arrive as restaurant-managed HTML; they are
// sanitised at decode time so nothing downstream has to remember to.
var descriptionPolicy = bluemonday.UGCPolicy()

type menuItemPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	ImageURL    string `json:"imageUrl"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Available   bool   `json:"available"`
	IsAddon     bool   `json:"isAddon"`
}

type categoryPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sortOrder"`
	Active    bool   `json:"active"`
}

// MenuItems lists menu items, optionally filtered by category.
func (c *Client) MenuItems(ctx context.Context, category string) ([]domain.MenuItem, error) {
	var query url.Values
	if category = strings.TrimSpace(category); category != "" {
		query = url.Values{"category": []string{category}}
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/menu/items", query)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var payload struct {
		Items []menuItemPayload `json:"items"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	items := make([]domain.MenuItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, menuItemFromPayload(item))
	}
	return items, nil
}

// Categories lists menu categories in display order.
func (c *Client) Categories(ctx context.Context) ([]domain.Category, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/menu/categories", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var payload struct {
		Categories []categoryPayload `json:"categories"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	categories := make([]domain.Category, 0, len(payload.Categories))
	for _, cat := range payload.Categories {
		categories = append(categories, domain.Category{
			ID:        cat.ID,
			Name:      cat.Name,
			SortOrder: cat.SortOrder,
			Active:    cat.Active,
		})
	}
	return categories, nil
}

func menuItemFromPayload(p menuItemPayload) domain.MenuItem {
	return domain.MenuItem{
		ID:          p.ID,
		Name:        p.Name,
		Description: descriptionPolicy.Sanitize(p.Description),
		Price:       p.Price,
		ImageURL:    p.ImageURL,
		Category:    p.Category,
		Subcategory: p.Subcategory,
		Available:   p.Available,
		IsAddon:     p.IsAddon,
	}
}

// MenuItemInput carries the writable fields for menu management.
type MenuItemInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	Available   bool   `json:"available"`
	IsAddon     bool   `json:"isAddon"`
}

// CreateMenuItem adds a menu item (back office).
func (c *Client) CreateMenuItem(ctx context.Context, input MenuItemInput) (domain.MenuItem, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/admin/menu/items", input)
	if err != nil {
		return domain.MenuItem{}, err
	}
	return c.menuItemResponse(req, http.StatusCreated)
}

// UpdateMenuItem updates a menu item (back office).
func (c *Client) UpdateMenuItem(ctx context.Context, id string, input MenuItemInput) (domain.MenuItem, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/admin/menu/items/"+url.PathEscape(id), input)
	if err != nil {
		return domain.MenuItem{}, err
	}
	return c.menuItemResponse(req, http.StatusOK)
}

// DeleteMenuItem removes a menu item (back office).
func (c *Client) DeleteMenuItem(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/admin/menu/items/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.errorFromResponse(resp)
	}
	drain(resp)
	return nil
}

// CategoryInput carries the writable fields for category management.
type CategoryInput struct {
	Name      string `json:"name"`
	SortOrder int    `json:"sortOrder"`
	Active    bool   `json:"active"`
}

// CreateCategory adds a category (back office).
func (c *Client) CreateCategory(ctx context.Context, input CategoryInput) (domain.Category, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/admin/menu/categories", input)
	if err != nil {
		return domain.Category{}, err
	}
	return c.categoryResponse(req, http.StatusCreated)
}

// UpdateCategory updates a category (back office).
func (c *Client) UpdateCategory(ctx context.Context, id string, input CategoryInput) (domain.Category, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/admin/menu/categories/"+url.PathEscape(id), input)
	if err != nil {
		return domain.Category{}, err
	}
	return c.categoryResponse(req, http.StatusOK)
}

// DeleteCategory removes a category (back office).
func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/admin/menu/categories/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.errorFromResponse(resp)
	}
	drain(resp)
	return nil
}

func (c *Client) menuItemResponse(req *http.Request, want int) (domain.MenuItem, error) {
	resp, err := c.do(req)
	if err != nil {
		return domain.MenuItem{}, err
	}
	if resp.StatusCode != want && resp.StatusCode != http.StatusOK {
		return domain.MenuItem{}, c.errorFromResponse(resp)
	}
	var payload menuItemPayload
	if err := decodeJSON(resp, &payload); err != nil {
		return domain.MenuItem{}, err
	}
	return menuItemFromPayload(payload), nil
}

func (c *Client) categoryResponse(req *http.Request, want int) (domain.Category, error) {
	resp, err := c.do(req)
	if err != nil {
		return domain.Category{}, err
	}
	if resp.StatusCode != want && resp.StatusCode != http.StatusOK {
		return domain.Category{}, c.errorFromResponse(resp)
	}
	var payload categoryPayload
	if err := decodeJSON(resp, &payload); err != nil {
		return domain.Category{}, err
	}
	return domain.Category{ID: payload.ID, Name: payload.Name, SortOrder: payload.SortOrder, Active: payload.Active}, nil
}
