package mealie

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	requestTimeout = 30 * time.Second
	retryCount     = 2
	retryWait      = time.Second
)

// Client implements Service against a real Mealie instance.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a Mealie client. Transient server errors are retried
// twice with a short wait before being surfaced.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{
		http:   httpClient,
		logger: logger.Named("mealie"),
	}
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		Get(endpoint)
	if err != nil {
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("GET %s returned status %d", endpoint, resp.StatusCode())
	}
	return nil
}

// GetAllRecipes fetches every recipe summary.
func (c *Client) GetAllRecipes(ctx context.Context) ([]Recipe, error) {
	var page paginated[Recipe]
	if err := c.get(ctx, "/api/recipes?perPage=-1", &page); err != nil {
		return nil, err
	}
	c.logger.Debug("Fetched recipes", zap.Int("count", len(page.Items)))
	return page.Items, nil
}

// GetRecipeDetails fetches one recipe by slug, ingredients included.
func (c *Client) GetRecipeDetails(ctx context.Context, slug string) (*Recipe, error) {
	var recipe Recipe
	if err := c.get(ctx, "/api/recipes/"+slug, &recipe); err != nil {
		return nil, err
	}
	return &recipe, nil
}

// GetTags returns all organizer tags.
func (c *Client) GetTags(ctx context.Context) ([]Tag, error) {
	var page paginated[Tag]
	if err := c.get(ctx, "/api/organizers/tags?perPage=-1", &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// GetCategories returns all organizer categories.
func (c *Client) GetCategories(ctx context.Context) ([]Category, error) {
	var page paginated[Category]
	if err := c.get(ctx, "/api/organizers/categories?perPage=-1", &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// CreateTag creates a new organizer tag and returns it.
func (c *Client) CreateTag(ctx context.Context, name string) (*Tag, error) {
	var tag Tag
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&tag).
		Post("/api/organizers/tags")
	if err != nil {
		return nil, fmt.Errorf("create tag %q: %w", name, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("create tag %q returned status %d", name, resp.StatusCode())
	}
	c.logger.Info("Created tag", zap.String("name", name))
	return &tag, nil
}

// CreateCategory creates a new organizer category and returns it.
func (c *Client) CreateCategory(ctx context.Context, name string) (*Category, error) {
	var category Category
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&category).
		Post("/api/organizers/categories")
	if err != nil {
		return nil, fmt.Errorf("create category %q: %w", name, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("create category %q returned status %d", name, resp.StatusCode())
	}
	c.logger.Info("Created category", zap.String("name", name))
	return &category, nil
}

// UpdateRecipeTags patches a recipe's tags and categories.
func (c *Client) UpdateRecipeTags(ctx context.Context, slug string, tags []Tag, categories []Category) error {
	body := map[string]any{
		"tags":           tags,
		"recipeCategory": categories,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Patch("/api/recipes/" + slug)
	if err != nil {
		return fmt.Errorf("update recipe %q: %w", slug, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("update recipe %q returned status %d", slug, resp.StatusCode())
	}
	c.logger.Info("Updated recipe tags", zap.String("slug", slug))
	return nil
}

// GetMealPlan fetches meal plan entries in the inclusive date range
// (YYYY-MM-DD).
func (c *Client) GetMealPlan(ctx context.Context, startDate, endDate string) ([]MealPlanEntry, error) {
	var page paginated[MealPlanEntry]
	endpoint := fmt.Sprintf("/api/households/mealplans?start_date=%s&end_date=%s&perPage=-1", startDate, endDate)
	if err := c.get(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// CreateMealPlanEntry creates one meal plan entry.
func (c *Client) CreateMealPlanEntry(ctx context.Context, entry MealPlanEntry) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(entry).
		Post("/api/households/mealplans")
	if err != nil {
		return fmt.Errorf("create meal plan entry for %s: %w", entry.Date, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("create meal plan entry for %s returned status %d", entry.Date, resp.StatusCode())
	}
	c.logger.Info("Created meal plan entry", zap.String("date", entry.Date))
	return nil
}

// CreateShoppingList creates a named shopping list and returns its id.
func (c *Client) CreateShoppingList(ctx context.Context, name string) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&created).
		Post("/api/households/shopping/lists")
	if err != nil {
		return "", fmt.Errorf("create shopping list %q: %w", name, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("create shopping list %q returned status %d", name, resp.StatusCode())
	}
	c.logger.Info("Created shopping list", zap.String("name", name), zap.String("id", created.ID))
	return created.ID, nil
}

// AddItemToShoppingList adds a free-text note item to a shopping list.
func (c *Client) AddItemToShoppingList(ctx context.Context, listID, note string) error {
	body := map[string]any{
		"shoppingListId": listID,
		"note":           note,
		"isFood":         false,
		"disableAmount":  true,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/api/households/shopping/items")
	if err != nil {
		return fmt.Errorf("add shopping list item: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("add shopping list item returned status %d", resp.StatusCode())
	}
	return nil
}

// MergeFoods folds every use of fromFoodID into toFoodID.
func (c *Client) MergeFoods(ctx context.Context, fromFoodID, toFoodID string) error {
	body := map[string]string{
		"fromFood": fromFoodID,
		"toFood":   toFoodID,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Put("/api/foods/merge")
	if err != nil {
		return fmt.Errorf("merge foods: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("merge foods returned status %d", resp.StatusCode())
	}
	c.logger.Info("Merged foods",
		zap.String("from", fromFoodID),
		zap.String("to", toFoodID))
	return nil
}
