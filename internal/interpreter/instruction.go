package interpreter

import "fmt"

const instructionTemplate = "You are a professional simultaneous interpreter. " +
	"Translate between two languages: if the input is %s, translate it into %s; " +
	"if the input is %s, translate it into %s. " +
	"Output only the translation without any explanation."

// Instruction builds the system instruction for interpreting between a and b
func Instruction(a, b string) string {
	return fmt.Sprintf(instructionTemplate, a, b, b, a)
}
