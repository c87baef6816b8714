package mealie

// Recipe is the subset of Mealie's recipe schema the plugins consume. The
// summary endpoint omits ingredients; GetRecipeDetails fills them in.
type Recipe struct {
	ID          string       `json:"id"`
	Slug        string       `json:"slug"`
	Name        string       `json:"name"`
	Tags        []Tag        `json:"tags"`
	Categories  []Category   `json:"recipeCategory"`
	Ingredients []Ingredient `json:"recipeIngredient"`
}

// Tag is a Mealie organizer tag.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Category is a Mealie organizer category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Ingredient is one line of a recipe's ingredient list. Food and Unit are
// nullable in the Mealie schema.
type Ingredient struct {
	Quantity float64 `json:"quantity"`
	Note     string  `json:"note"`
	Unit     *Unit   `json:"unit"`
	Food     *Food   `json:"food"`
}

// Unit is a measurement unit reference.
type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Food is a normalized food reference.
type Food struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MealPlanEntry is one planned meal on a date.
type MealPlanEntry struct {
	ID        int    `json:"id,omitempty"`
	Date      string `json:"date"`
	EntryType string `json:"entryType"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text,omitempty"`
	RecipeID  string `json:"recipeId,omitempty"`
}

// paginated is Mealie's standard list envelope.
type paginated[T any] struct {
	Items []T `json:"items"`
}
