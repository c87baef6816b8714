// Package mealie is a thin client for the Mealie recipe manager REST API.
package mealie

import "context"

// ServiceName is the container key for the Mealie service.
const ServiceName = "mealie.Service"

// Service is the Mealie API surface the plugins depend on. Implementations
// return explicit errors; callers decide whether a failure aborts a run or
// degrades to a warning.
type Service interface {
	GetAllRecipes(ctx context.Context) ([]Recipe, error)
	GetRecipeDetails(ctx context.Context, slug string) (*Recipe, error)

	GetTags(ctx context.Context) ([]Tag, error)
	GetCategories(ctx context.Context) ([]Category, error)
	CreateTag(ctx context.Context, name string) (*Tag, error)
	CreateCategory(ctx context.Context, name string) (*Category, error)
	UpdateRecipeTags(ctx context.Context, slug string, tags []Tag, categories []Category) error

	GetMealPlan(ctx context.Context, startDate, endDate string) ([]MealPlanEntry, error)
	CreateMealPlanEntry(ctx context.Context, entry MealPlanEntry) error

	CreateShoppingList(ctx context.Context, name string) (string, error)
	AddItemToShoppingList(ctx context.Context, listID, note string) error

	MergeFoods(ctx context.Context, fromFoodID, toFoodID string) error
}
