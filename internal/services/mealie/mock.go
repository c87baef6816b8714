package mealie

import (
	"context"
	"fmt"
	"sync"
)

// MockService is an in-memory Service for tests. Seed the data fields, then
// assert against the recorded mutations.
type MockService struct {
	mu sync.Mutex

	Recipes    []Recipe
	Details    map[string]*Recipe
	Tags       []Tag
	Categories []Category
	PlanByDay  []MealPlanEntry

	CreatedTags       []string
	CreatedCategories []string
	CreatedEntries    []MealPlanEntry
	CreatedLists      []string
	AddedItems        map[string][]string
	PatchedRecipes    map[string][]Tag
	MergedFoods       [][2]string

	// Err, when set, is returned by every call.
	Err error
}

// NewMockService creates an empty mock.
func NewMockService() *MockService {
	return &MockService{
		Details:        make(map[string]*Recipe),
		AddedItems:     make(map[string][]string),
		PatchedRecipes: make(map[string][]Tag),
	}
}

func (m *MockService) GetAllRecipes(_ context.Context) ([]Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Recipes, m.Err
}

func (m *MockService) GetRecipeDetails(_ context.Context, slug string) (*Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	recipe, ok := m.Details[slug]
	if !ok {
		return nil, fmt.Errorf("recipe %s not found", slug)
	}
	return recipe, nil
}

func (m *MockService) GetTags(_ context.Context) ([]Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Tags, m.Err
}

func (m *MockService) GetCategories(_ context.Context) ([]Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Categories, m.Err
}

func (m *MockService) CreateTag(_ context.Context, name string) (*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.CreatedTags = append(m.CreatedTags, name)
	tag := Tag{ID: "tag-" + name, Name: name, Slug: name}
	m.Tags = append(m.Tags, tag)
	return &tag, nil
}

func (m *MockService) CreateCategory(_ context.Context, name string) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.CreatedCategories = append(m.CreatedCategories, name)
	category := Category{ID: "cat-" + name, Name: name, Slug: name}
	m.Categories = append(m.Categories, category)
	return &category, nil
}

func (m *MockService) UpdateRecipeTags(_ context.Context, slug string, tags []Tag, _ []Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.PatchedRecipes[slug] = tags
	return nil
}

func (m *MockService) GetMealPlan(_ context.Context, _, _ string) ([]MealPlanEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PlanByDay, m.Err
}

func (m *MockService) CreateMealPlanEntry(_ context.Context, entry MealPlanEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.CreatedEntries = append(m.CreatedEntries, entry)
	return nil
}

func (m *MockService) CreateShoppingList(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.CreatedLists = append(m.CreatedLists, name)
	return fmt.Sprintf("list-%d", len(m.CreatedLists)), nil
}

func (m *MockService) AddItemToShoppingList(_ context.Context, listID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.AddedItems[listID] = append(m.AddedItems[listID], note)
	return nil
}

func (m *MockService) MergeFoods(_ context.Context, fromFoodID, toFoodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.MergedFoods = append(m.MergedFoods, [2]string{fromFoodID, toFoodID})
	return nil
}
