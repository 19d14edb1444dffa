// Package ratelimit fornece adapters HTTP (net/http) para a admissão de requisições
// e o limite de requisições em execução.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (políticas, decisões, stats), sem net/http
//   - application: Controller (avaliação por categoria e combinada) e InFlight (vagas com timeout)
//   - infra: janela fixa em memória, stores de stats, semáforo em channel
//   - ratelimit (este pacote): extração de chave, headers, respostas 429/503 e atraso progressivo
//
// Fluxo por rota:
//
//  1. Extrai a chave do cliente (header, X-Forwarded-For ou RemoteAddr)
//  2. Avalia as categorias ligadas à rota, na ordem; a primeira rejeição vence
//  3. Se rejeitado, responde 429 com Retry-After e headers RateLimit-*
//  4. Se houver atraso, segura a requisição num timer sem ocupar vaga
//  5. Ocupa uma vaga do InFlight (503 se não liberar a tempo) e chama o handler
package ratelimit
