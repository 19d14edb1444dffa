// Package application contém os casos de uso da admissão: avaliação de uma
// categoria, avaliação combinada da lista ordenada de uma rota e entrada no
// limite de requisições em execução.
//
// Depende apenas do pacote domain e não conhece net/http.
// Controller.EvaluateAll(key, categories, now) devolve um domain.Verdict.
package application
