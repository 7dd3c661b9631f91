// Package lang implements the HiveLang front end.
//
// Source text for one capability body is tokenized (lexer.go), parsed by a
// recursive-descent parser into a tagged AST (ast.go, parser.go), resolved
// (resolve.go) and printed back as canonical host code (codegen.go).
//
// The parser accepts both the Python-flavoured surface syntax and the host
// syntax that Generate emits, so Transpile is a fixpoint on its own output:
//
//	Transpile(Transpile(x)) == Transpile(x)
//
// Surface rewrites are expressed as AST shape, not text substitution:
//
//	f"Bearer {user.api_key}"  ->  `Bearer ${context.user.api_key}`
//	post(u, headers = {...})  ->  await http.post(u, { headers: {...} })
//	if not ok {               ->  if (!ok) {
//	elif a and b {            ->  } else if (a && b) {
//	[x.id for x in xs]        ->  xs.map(x => x.id)
package lang
