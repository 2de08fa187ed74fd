// Package prefab expõe o carregador de prefabs por HTTP (net/http).
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: ledger, pool com contagem de referências e o Loader
//   - infra: implementações concretas (content store HTTP, token bucket, Redis)
//   - prefab (este pacote): API JSON + registro de scopes + throttle por cliente
//
// Fluxo de um GET /prefabs/{id}?scope=cena:
//
//  1. Throttle extrai a chave do cliente (header/XFF/IP) e decide allow/deny
//  2. O scope nomeado é aberto (ou reaproveitado) no registro
//  3. Loader.Load resolve pelo pool, ou baixa o bundle uma única vez
//  4. Erros viram status HTTP pelo tipo (404, 422, 403, 409, 502)
//
// Variáveis de ambiente do binário (cmd/prefabd) controlam o comportamento,
// como CONTENT_URL, DOWNLOAD_MAX, DOWNLOAD_RPS e POOL_COOLDOWN.
package prefab
