package formula

// Node is the interface for all AST nodes. The set of node types is closed:
// the unexported marker keeps other packages from adding new ones, and the
// evaluator switches over every type.
type Node interface {
	nodeType() string
}

// BinaryNode represents an arithmetic operation (+, -, *, /, ^).
type BinaryNode struct {
	Op    Token
	Left  Node
	Right Node
}

func (n *BinaryNode) nodeType() string { return "BinaryOp" }

// UnaryNode represents a unary + or -.
type UnaryNode struct {
	Op      Token
	Operand Node
}

func (n *UnaryNode) nodeType() string { return "UnaryOp" }

// BooleanNode represents a comparison or a logical AND/OR.
type BooleanNode struct {
	Op    Token
	Left  Node
	Right Node
}

func (n *BooleanNode) nodeType() string { return "BooleanOp" }

// NumberNode represents a numeric literal.
type NumberNode struct {
	Token Token
	Value float64
}

func (n *NumberNode) nodeType() string { return "NumberLiteral" }

// StringNode represents a string literal. Date and time literals are string
// literals whose token type records the kind.
type StringNode struct {
	Token Token
	Value string
}

func (n *StringNode) nodeType() string { return "StringLiteral" }

// ArrayNode represents a ;-delimited array literal.
type ArrayNode struct {
	Token    Token
	Values   []string
	Editable bool
}

func (n *ArrayNode) nodeType() string { return "ArrayLiteral" }

// VariableNode represents a variable reference.
type VariableNode struct {
	Token Token
	Name  string
}

func (n *VariableNode) nodeType() string { return "VariableRef" }

// AssignNode represents "name = expr".
type AssignNode struct {
	Target Token
	Name   string
	Value  Node
}

func (n *AssignNode) nodeType() string { return "Assignment" }

// CallNode represents a built-in function call.
type CallNode struct {
	Token Token
	Name  string
	Args  []Node
}

func (n *CallNode) nodeType() string { return "FunctionCall" }

// StatementList represents newline-separated statements.
type StatementList struct {
	Statements []Node
}

func (n *StatementList) nodeType() string { return "StatementList" }

// NoOpNode represents an empty statement.
type NoOpNode struct{}

func (n *NoOpNode) nodeType() string { return "NoOp" }

// NodeType returns the name of the node's variant, e.g. "Assignment".
func NodeType(n Node) string {
	if n == nil {
		return ""
	}
	return n.nodeType()
}
