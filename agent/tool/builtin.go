package tool

import "fmt"

// RegisterBuiltins registers the tutoring tools shipped with the bot.
func RegisterBuiltins(reg *Registry, book GradeBook) error {
	defs := []Definition{MathEvaluateDefinition()}
	if book != nil {
		defs = append(defs, LookupGradeDefinition(book))
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register builtin %s: %w", def.Name, err)
		}
	}
	return nil
}
