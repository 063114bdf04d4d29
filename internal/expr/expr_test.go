package expr_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/framecast/internal/expr"
	"github.com/MrWong99/framecast/internal/placeholder"
	"github.com/MrWong99/framecast/pkg/anim"
	"github.com/MrWong99/framecast/pkg/anim/mock"
)

var (
	alice = anim.Recipient{ID: "alice", Name: "Alice"}
	bob   = anim.Recipient{ID: "bob", Name: "Bob"}
)

func newEvaluator(t *testing.T) *expr.Evaluator {
	t.Helper()
	world := mock.NewWorld(alice)
	world.Join(bob, "nether", "vip")
	return expr.NewEvaluator(world, placeholder.New(world))
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)

	tests := []struct {
		src  string
		r    anim.Recipient
		want bool
	}{
		{src: "true", r: alice, want: true},
		{src: "false", r: alice, want: false},
		{src: "!false", r: alice, want: true},
		{src: "!!true", r: alice, want: true},
		{src: `has("vip")`, r: bob, want: true},
		{src: `has('vip')`, r: alice, want: false},
		{src: `!has("vip")`, r: alice, want: true},
		{src: `%recipient_world% == "nether"`, r: bob, want: true},
		{src: `%recipient_world% != "nether"`, r: alice, want: true},
		{src: `%recipient_name% == 'Alice' && has("vip")`, r: alice, want: false},
		{src: `%recipient_name% == 'Alice' || has("vip")`, r: alice, want: true},
		{src: `false || false || true`, r: alice, want: true},
		{src: `true && (false || true)`, r: alice, want: true},
		{src: `!(true && false)`, r: alice, want: true},
		// Numeric when both sides are numbers.
		{src: "%online% >= 2", r: alice, want: true},
		{src: "%online% < 10", r: alice, want: true},
		{src: `"9" < "10"`, r: alice, want: true},
		{src: "2 == 2.0", r: alice, want: true},
		{src: "-1 < 0", r: alice, want: true},
		// Lexical otherwise.
		{src: `"apple" < "banana"`, r: alice, want: true},
		{src: `"9" < "1a"`, r: alice, want: false},
		{src: `true == "true"`, r: alice, want: true},
		// Bare operands use truthiness.
		{src: `"yes"`, r: alice, want: true},
		{src: `""`, r: alice, want: false},
		{src: `"0"`, r: alice, want: false},
		{src: "0", r: alice, want: false},
		{src: "%recipient_name%", r: alice, want: true},
		// The rest of the expr language still applies.
		{src: "len(%recipient_name%) == 5", r: alice, want: true},
		{src: `%recipient_world% in ["lobby", "nether"]`, r: bob, want: true},
		{src: "10 % 3 == 1", r: alice, want: true},
		{src: `"%recipient_name%" == "%recipient_name%"`, r: alice, want: true},
		{src: `has("vip") and not has("staff")`, r: bob, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			t.Parallel()
			got, err := e.Evaluate(tt.src, tt.r)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%s) for %s = %v, want %v", tt.src, tt.r.ID, got, tt.want)
			}
		})
	}
}

func TestSyntaxErrors(t *testing.T) {
	t.Parallel()
	for _, src := range []string{
		"",
		"(",
		"true &&",
		"true )",
		`"unterminated`,
		"%unterminated",
		"%%",
		"has()",
		`has("a", "b")`,
		"frobnicate",
		"1 2",
		"1 +",
		"== 1",
		"   ",
	} {
		t.Run(src, func(t *testing.T) {
			t.Parallel()
			if _, err := expr.Compile(src); !errors.Is(err, expr.ErrSyntax) {
				t.Errorf("Compile(%q) = %v, want ErrSyntax", src, err)
			}
		})
	}
}

func TestUnknownPlaceholder(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)
	if _, err := e.Evaluate("%nope% == 1", alice); !errors.Is(err, expr.ErrUnknownPlaceholder) {
		t.Errorf("err = %v, want ErrUnknownPlaceholder", err)
	}
	// Short-circuit skips the unknown operand.
	ok, err := e.Evaluate("true || %nope%", alice)
	if err != nil || !ok {
		t.Errorf("short-circuit = %v, %v", ok, err)
	}
}

func TestNilCollaborators(t *testing.T) {
	t.Parallel()
	e := expr.NewEvaluator(nil, nil)
	if ok, err := e.Evaluate(`has("x")`, alice); err != nil || ok {
		t.Errorf("has without provider = %v, %v", ok, err)
	}
	if _, err := e.Evaluate("%online%", alice); !errors.Is(err, expr.ErrUnknownPlaceholder) {
		t.Errorf("placeholder without values = %v", err)
	}
}

func TestEvaluatorCachesPrograms(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)
	for range 3 {
		if ok, err := e.Evaluate(`has("vip")`, bob); err != nil || !ok {
			t.Fatalf("Evaluate = %v, %v", ok, err)
		}
	}
	if ok, err := e.Evaluate(`has("vip")`, alice); err != nil || ok {
		t.Errorf("cached program ignored the recipient: %v, %v", ok, err)
	}
}

func TestCompiledProgramReads(t *testing.T) {
	t.Parallel()
	world := mock.NewWorld(alice)
	p, err := expr.Compile(`has("vip")`)
	if err != nil {
		t.Fatal(err)
	}
	env := expr.Env{Recipient: alice, Capabilities: world}
	if ok, _ := p.Eval(env); ok {
		t.Fatal("vip before grant")
	}
	world.Grant(alice.ID, "vip")
	if ok, _ := p.Eval(env); !ok {
		t.Error("grant not observed")
	}
	if p.String() != `has("vip")` {
		t.Errorf("String = %q", p.String())
	}
}
